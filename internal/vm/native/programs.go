package native

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/roach88/aosim/internal/ir"
	"github.com/roach88/aosim/internal/vm"
)

// isBoot reports whether msg is the boot message of its process.
func isBoot(call Call) bool {
	return call.Msg.ID == call.Env.Process.ID
}

type counterState struct {
	Count int64 `json:"count"`
}

// counter keeps a running total.
//
//	Action=Add, Plus=<n>  adds n
//	Action=Get            replies to the sender with the total
//
// A boot message starts the total at its data, or zero.
func counter(_ context.Context, call Call) ([]byte, *ir.Output, error) {
	var st counterState
	if len(call.State) > 0 {
		if err := json.Unmarshal(call.State, &st); err != nil {
			return nil, nil, fmt.Errorf("counter: corrupt state: %w", err)
		}
	}
	out := &ir.Output{}

	switch action := call.Msg.Tags.Value("Action"); {
	case isBoot(call):
		st.Count = 0
		if call.Msg.Data != "" {
			n, err := strconv.ParseInt(call.Msg.Data, 10, 64)
			if err != nil {
				out.Error = fmt.Sprintf("invalid initial count %q", call.Msg.Data)
				return call.State, out, nil
			}
			st.Count = n
		}
		out.Output = "booted"
	case action == "Add":
		n, err := strconv.ParseInt(call.Msg.Tags.Value("Plus"), 10, 64)
		if err != nil {
			out.Error = fmt.Sprintf("invalid Plus %q", call.Msg.Tags.Value("Plus"))
			return call.State, out, nil
		}
		st.Count += n
		out.Output = strconv.FormatInt(st.Count, 10)
	case action == "Get":
		total := strconv.FormatInt(st.Count, 10)
		out.Output = total
		out.Messages = append(out.Messages, ir.OutMessage{
			Target: call.Msg.From,
			Tags:   ir.T("Action", "Count"),
			Data:   total,
		})
	default:
		out.Error = fmt.Sprintf("unknown action %q", action)
		return call.State, out, nil
	}

	state, err := json.Marshal(st)
	if err != nil {
		return nil, nil, err
	}
	return state, out, nil
}

// echo replies to the sender with the message data. Action=Fail reports the
// data as an error instead.
func echo(_ context.Context, call Call) ([]byte, *ir.Output, error) {
	out := &ir.Output{Output: call.Msg.Data}
	if isBoot(call) {
		return call.State, out, nil
	}
	if call.Msg.Tags.Value("Action") == "Fail" {
		return call.State, &ir.Output{Error: call.Msg.Data}, nil
	}
	out.Messages = append(out.Messages, ir.OutMessage{
		Target: call.Msg.From,
		Tags:   ir.T("Action", "Echo-Response"),
		Data:   call.Msg.Data,
	})
	return call.State, out, nil
}

// spawner spawns a child process on Action=Spawn. The child runs the module
// named by Spawn-Module, or the spawner's own module.
func spawner(_ context.Context, call Call) ([]byte, *ir.Output, error) {
	out := &ir.Output{}
	if call.Msg.Tags.Value("Action") != "Spawn" {
		return call.State, out, nil
	}
	module := call.Msg.Tags.Value("Spawn-Module")
	if module == "" {
		module = call.Env.Module.ID
	}
	tags := ir.T("Module", module)
	if name := call.Msg.Tags.Value("Name"); name != "" {
		tags = tags.Append("Name", name)
	}
	out.Spawns = append(out.Spawns, ir.SpawnEffect{Tags: tags, Data: call.Msg.Data})
	out.Output = "spawning " + module
	return call.State, out, nil
}

// reader reads ledger content through the drive on Action=Read and replies
// with it.
//
//	ID=<id>        content to read
//	Kind=<kind>    data (default), tx, tx2 or block
//	Offset=<n>     seek before reading
//	Length=<n>     bytes to read, default all
//	Passes=<n>     read n times, rewinding the descriptor in between; the
//	               passes must agree
func reader(ctx context.Context, call Call) ([]byte, *ir.Output, error) {
	out := &ir.Output{}
	if call.Msg.Tags.Value("Action") != "Read" {
		return call.State, out, nil
	}
	if call.Drive == nil {
		out.Error = vm.ErrNoDrive.Error()
		return call.State, out, nil
	}

	kind := call.Msg.Tags.Value("Kind")
	if kind == "" {
		kind = "data"
	}
	offset, err := optionalInt(call.Msg.Tags, "Offset", 0)
	if err != nil {
		out.Error = err.Error()
		return call.State, out, nil
	}
	length, err := optionalInt(call.Msg.Tags, "Length", -1)
	if err != nil {
		out.Error = err.Error()
		return call.State, out, nil
	}

	passes, err := optionalInt(call.Msg.Tags, "Passes", 1)
	if err == nil && passes < 1 {
		err = fmt.Errorf("invalid Passes %d", passes)
	}
	if err != nil {
		out.Error = err.Error()
		return call.State, out, nil
	}

	content, err := readAll(ctx, call.Drive, kind+"/"+call.Msg.Tags.Value("ID"), offset, length, int(passes))
	if err != nil {
		if vm.IsFatal(err) {
			return nil, nil, err
		}
		out.Error = err.Error()
		return call.State, out, nil
	}
	out.Output = string(content)
	out.Messages = append(out.Messages, ir.OutMessage{
		Target: call.Msg.From,
		Tags:   ir.T("Action", "Read-Response", "ID", call.Msg.Tags.Value("ID")),
		Data:   string(content),
	})
	return call.State, out, nil
}

const readChunk = 4096

// errPassesDiffer is reported when rereading a file returns other bytes.
var errPassesDiffer = errors.New("drive returned different content on reread")

func readAll(ctx context.Context, d vm.Drive, path string, offset, length int64, passes int) ([]byte, error) {
	fd, err := d.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer d.Close(ctx, fd)

	first, err := readRange(ctx, d, fd, offset, length)
	if err != nil {
		return nil, err
	}
	for range passes - 1 {
		if err := d.Reset(ctx, fd); err != nil {
			return nil, err
		}
		again, err := readRange(ctx, d, fd, offset, length)
		if err != nil {
			return nil, err
		}
		if !bytes.Equal(first, again) {
			return nil, errPassesDiffer
		}
	}
	return first, nil
}

func readRange(ctx context.Context, d vm.Drive, fd int, offset, length int64) ([]byte, error) {
	if offset > 0 {
		if _, err := d.Seek(ctx, fd, offset, io.SeekStart); err != nil {
			return nil, err
		}
	}
	var buf []byte
	for length < 0 || int64(len(buf)) < length {
		n := readChunk
		if length >= 0 && length-int64(len(buf)) < int64(n) {
			n = int(length - int64(len(buf)))
		}
		chunk, err := d.Read(ctx, fd, n)
		if err != nil {
			return nil, err
		}
		if len(chunk) == 0 {
			break
		}
		buf = append(buf, chunk...)
	}
	return buf, nil
}

func optionalInt(tags ir.Tags, name string, def int64) (int64, error) {
	v := tags.Value(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s %q", name, v)
	}
	return n, nil
}

type relayState struct {
	Relayed int64 `json:"relayed"`
}

// relay forwards traffic between processes.
//
//	Action=Relay, Relay-To=<pid>   sends Relay back and forth forever
//	Action=Forward, Relay-To=<pid> sends the data on once
//	Action=Bounce, Peer=<pid>...   assigns this message to every other peer
func relay(_ context.Context, call Call) ([]byte, *ir.Output, error) {
	var st relayState
	if len(call.State) > 0 {
		if err := json.Unmarshal(call.State, &st); err != nil {
			return nil, nil, fmt.Errorf("relay: corrupt state: %w", err)
		}
	}
	out := &ir.Output{}
	self := call.Env.Process.ID

	switch call.Msg.Tags.Value("Action") {
	case "Relay":
		out.Messages = append(out.Messages, ir.OutMessage{
			Target: call.Msg.Tags.Value("Relay-To"),
			Tags:   ir.T("Action", "Relay", "Relay-To", self),
			Data:   call.Msg.Data,
		})
	case "Forward":
		out.Messages = append(out.Messages, ir.OutMessage{
			Target: call.Msg.Tags.Value("Relay-To"),
			Tags:   ir.T("Action", "Forwarded"),
			Data:   call.Msg.Data,
		})
	case "Bounce":
		var peers []string
		for _, p := range call.Msg.Tags.Values("Peer") {
			if p != self {
				peers = append(peers, p)
			}
		}
		if len(peers) > 0 {
			out.Assignments = append(out.Assignments, ir.AssignmentEffect{Message: call.Msg.ID, Processes: peers})
		}
	default:
		return call.State, out, nil
	}

	st.Relayed++
	out.Output = strconv.FormatInt(st.Relayed, 10)
	state, err := json.Marshal(st)
	if err != nil {
		return nil, nil, err
	}
	return state, out, nil
}

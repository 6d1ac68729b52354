package ir

// DataItem is a signed, addressable unit of content.
// ID is base64url(sha256(Signature)); Owner is the signer's address.
type DataItem struct {
	ID        string `json:"id"`
	Owner     string `json:"owner"`
	OwnerKey  string `json:"owner_key"`
	Target    string `json:"target,omitempty"`
	Anchor    string `json:"anchor,omitempty"`
	Tags      Tags   `json:"tags"`
	Data      []byte `json:"data,omitempty"`
	Signature string `json:"signature"`
}

// Transaction is a data item once committed to a block.
type Transaction struct {
	ID        string `json:"id"`
	Owner     string `json:"owner"`
	OwnerKey  string `json:"owner_key,omitempty"`
	Target    string `json:"target,omitempty"`
	Anchor    string `json:"anchor,omitempty"`
	Tags      Tags   `json:"tags"`
	Data      []byte `json:"-"`
	DataSize  int64  `json:"data_size"`
	Signature string `json:"signature,omitempty"`
	Block     string `json:"block"`
	Height    int64  `json:"height"`
	Timestamp int64  `json:"timestamp"`
	// Item is the raw signed envelope when the transaction was posted as a bundle item.
	Item []byte `json:"-"`
}

// AsItem reconstructs the signed envelope of a committed transaction.
func (t *Transaction) AsItem() DataItem {
	return DataItem{
		ID:        t.ID,
		Owner:     t.Owner,
		OwnerKey:  t.OwnerKey,
		Target:    t.Target,
		Anchor:    t.Anchor,
		Tags:      t.Tags.Clone(),
		Data:      t.Data,
		Signature: t.Signature,
	}
}

// Block is one ledger block. Heights start at 1 and increase by exactly 1.
type Block struct {
	ID        string   `json:"id"`
	Height    int64    `json:"height"`
	Timestamp int64    `json:"timestamp"`
	Previous  string   `json:"previous"`
	Txs       []string `json:"txs"`
}

// Process is the persisted state of one simulated actor.
// The host handle and cron timer live in the engine, never here.
type Process struct {
	ID        string     `json:"id"`
	Owner     string     `json:"owner"`
	Module    string     `json:"module"`
	Scheduler string     `json:"scheduler"`
	Extension string     `json:"extension,omitempty"`
	Format    string     `json:"format"`
	OnBoot    string     `json:"on_boot,omitempty"`
	Memory    []byte     `json:"memory,omitempty"`
	Height    int64      `json:"height"`
	Hash      string     `json:"hash"`
	Epochs    [][]string `json:"epochs"`
	Results   []string   `json:"results"`
	CronTags  Tags       `json:"cron_tags,omitempty"`
	Span      int64      `json:"span,omitempty"`
	Halted    string     `json:"halted,omitempty"`
}

// Message is the envelope handed to a hosted process.
type Message struct {
	ID          string `json:"Id"`
	Target      string `json:"Target"`
	Owner       string `json:"Owner"`
	Data        string `json:"Data"`
	BlockHeight int64  `json:"Block-Height"`
	Timestamp   int64  `json:"Timestamp"`
	Module      string `json:"Module"`
	From        string `json:"From"`
	Cron        bool   `json:"Cron"`
	Tags        Tags   `json:"Tags"`
}

// Environment describes the process and module a message runs against.
type Environment struct {
	Process EnvProcess `json:"Process"`
	Module  EnvModule  `json:"Module"`
}

// EnvProcess is the process half of an Environment.
type EnvProcess struct {
	ID    string `json:"Id"`
	Owner string `json:"Owner"`
	Tags  Tags   `json:"Tags"`
}

// EnvModule is the module half of an Environment.
type EnvModule struct {
	ID   string `json:"Id"`
	Tags Tags   `json:"Tags"`
}

// Output is the record a host returns for one message.
// Memory travels beside the record and is never serialized with it.
type Output struct {
	Memory      []byte             `json:"-"`
	Messages    []OutMessage       `json:"Messages"`
	Spawns      []SpawnEffect      `json:"Spawns"`
	Assignments []AssignmentEffect `json:"Assignments"`
	Output      string             `json:"Output,omitempty"`
	Error       string             `json:"Error,omitempty"`
}

// Normalize replaces nil effect slices with empty ones so stored records
// serialize as [] rather than null.
func (o *Output) Normalize() *Output {
	if o.Messages == nil {
		o.Messages = []OutMessage{}
	}
	if o.Spawns == nil {
		o.Spawns = []SpawnEffect{}
	}
	if o.Assignments == nil {
		o.Assignments = []AssignmentEffect{}
	}
	return o
}

// OutMessage is an outbound message produced by a host.
type OutMessage struct {
	Target string `json:"Target"`
	Tags   Tags   `json:"Tags"`
	Data   string `json:"Data"`
}

// SpawnEffect asks the engine to spawn a new process.
type SpawnEffect struct {
	Tags Tags   `json:"Tags"`
	Data string `json:"Data"`
}

// AssignmentEffect asks the engine to assign an existing message to processes.
type AssignmentEffect struct {
	Message   string   `json:"Message"`
	Processes []string `json:"Processes"`
}

// MessageRecord is the stored body of a message plus its output once executed.
type MessageRecord struct {
	ID          string  `json:"id"`
	Process     string  `json:"process"`
	Owner       string  `json:"owner"`
	From        string  `json:"from,omitempty"`
	PushedFor   string  `json:"pushed_for,omitempty"`
	Tags        Tags    `json:"tags"`
	Data        string  `json:"data"`
	Cron        bool    `json:"cron,omitempty"`
	BlockHeight int64   `json:"block_height"`
	Timestamp   int64   `json:"timestamp"`
	Output      *Output `json:"output,omitempty"`
}

// ModuleSpec is a compiled module manifest.
type ModuleSpec struct {
	Name         string `json:"name"`
	Format       string `json:"format"`
	Source       string `json:"source,omitempty"`
	Builtin      string `json:"builtin,omitempty"`
	Extension    string `json:"extension,omitempty"`
	Availability string `json:"availability,omitempty"`
	MemoryLimit  string `json:"memory_limit"`
	ComputeLimit string `json:"compute_limit"`
	Tags         Tags   `json:"tags,omitempty"`
}

// ProcessSpec is a compiled process manifest. Module names a ModuleSpec in
// the same manifest set.
type ProcessSpec struct {
	Name         string `json:"name"`
	Module       string `json:"module"`
	Data         string `json:"data,omitempty"`
	OnBoot       string `json:"on_boot,omitempty"`
	CronInterval string `json:"cron_interval,omitempty"`
	CronTags     Tags   `json:"cron_tags,omitempty"`
	Tags         Tags   `json:"tags,omitempty"`
}

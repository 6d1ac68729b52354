package harness

// Trace event kinds.
const (
	EventPublish = "publish"
	EventSpawn   = "spawn"
	EventMessage = "message"
	EventDryRun  = "dryrun"
	EventAssign  = "assign"
	EventUpload  = "upload"
	EventAttest  = "attest"
	EventAvail   = "avail"
	EventResume  = "resume"
	// EventResult is a result the engine produced as an effect of a step,
	// in a process or for a message the step did not name.
	EventResult = "result"
)

// TraceEvent is one observable step of a scenario run. Ids never appear:
// processes, messages and modules are named by their scenario aliases, so
// traces compare equal across runs and machines.
type TraceEvent struct {
	Kind    string `json:"kind"`
	Process string `json:"process,omitempty"`
	Message string `json:"message,omitempty"`
	Module  string `json:"module,omitempty"`
	Output  string `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
	Seq     int64  `json:"seq"`
}

// Label returns "<kind>:<name>", naming the event by its message alias
// when it has one, else its process, else its module.
func (e TraceEvent) Label() string {
	name := e.Message
	if name == "" {
		name = e.Process
	}
	if name == "" {
		name = e.Module
	}
	return e.Kind + ":" + name
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if every step expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace contains every event in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Aliases maps scenario aliases to ledger ids.
	Aliases map[string]string `json:"aliases,omitempty"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:    true,
		Trace:   []TraceEvent{},
		Errors:  []string{},
		Aliases: make(map[string]string),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddEvent appends ev to the trace with the next sequence number.
func (r *Result) AddEvent(ev TraceEvent) {
	ev.Seq = int64(len(r.Trace)) + 1
	r.Trace = append(r.Trace, ev)
}

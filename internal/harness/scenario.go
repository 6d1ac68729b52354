package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/aosim/internal/ir"
)

// Scenario defines a conformance scenario: a manifest set to publish and
// spawn, steps to run against the engine, and assertions over the trace
// and final state.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Manifest is inline CUE declaring modules and processes.
	Manifest string `yaml:"manifest,omitempty"`

	// Manifests is a directory of CUE manifests, relative to the scenario
	// file. Exactly one of Manifest and Manifests is set.
	Manifests string `yaml:"manifests,omitempty"`

	// Steps run in order after every module is published and every
	// manifest process is spawned.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and state.
	Assertions []Assertion `yaml:"assertions"`

	// FlowToken prefixes the flow tokens of engine calls.
	// If empty, tokens are numbered under "test-flow".
	FlowToken string `yaml:"flow_token,omitempty"`

	// MaxSteps bounds the effects one call may dispatch. Zero keeps the
	// engine default.
	MaxSteps int `yaml:"max_steps,omitempty"`

	// BaseDir resolves relative manifest and module source paths. Set by
	// LoadScenario to the scenario file's directory.
	BaseDir string `yaml:"-"`
}

// Step is one engine call. Exactly one of the operation fields is set;
// its value names the process or content the step acts on.
type Step struct {
	// Message sends a signed message to the named process.
	Message string `yaml:"message,omitempty"`
	// DryRun evaluates a message against the named process without
	// committing anything.
	DryRun string `yaml:"dryrun,omitempty"`
	// Assign orders the message aliased by Ref into the named process.
	Assign string `yaml:"assign,omitempty"`
	// Spawn spawns another instance of the named manifest process.
	Spawn string `yaml:"spawn,omitempty"`
	// Upload posts Data as content under the given alias.
	Upload string `yaml:"upload,omitempty"`
	// Attest posts an attestation for the aliased content.
	Attest string `yaml:"attest,omitempty"`
	// Avail posts an availability marker for the aliased content.
	Avail string `yaml:"avail,omitempty"`
	// Resume clears the halt of the named process.
	Resume string `yaml:"resume,omitempty"`

	// As aliases the id the step creates. Messages default to
	// "<process>#<n>", spawns to the manifest name.
	As string `yaml:"as,omitempty"`

	// Ref is the message alias an assign step orders.
	Ref string `yaml:"ref,omitempty"`

	// Tags of the message, spawn or upload. Values may reference aliases
	// as ${alias}.
	Tags Tags `yaml:"tags,omitempty"`

	// Data of the message, spawn or upload. May reference aliases.
	Data string `yaml:"data,omitempty"`

	// From names the wallet that signs the step. "scheduler" and
	// "messenger" select the engine's units. Defaults to "user" for
	// messages and the scheduler for attestations.
	From string `yaml:"from,omitempty"`

	// Expect checks the outcome of the step.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Step operations.
const (
	OpMessage = "message"
	OpDryRun  = "dryrun"
	OpAssign  = "assign"
	OpSpawn   = "spawn"
	OpUpload  = "upload"
	OpAttest  = "attest"
	OpAvail   = "avail"
	OpResume  = "resume"
)

// Op returns the step's operation and its target, or "" when the step
// sets no operation or more than one.
func (s *Step) Op() (op, target string) {
	ops := []struct{ op, target string }{
		{OpMessage, s.Message},
		{OpDryRun, s.DryRun},
		{OpAssign, s.Assign},
		{OpSpawn, s.Spawn},
		{OpUpload, s.Upload},
		{OpAttest, s.Attest},
		{OpAvail, s.Avail},
		{OpResume, s.Resume},
	}
	for _, o := range ops {
		if o.target == "" {
			continue
		}
		if op != "" {
			return "", ""
		}
		op, target = o.op, o.target
	}
	return op, target
}

// Expect describes the outcome a step must produce.
type Expect struct {
	// Output must equal the result's output when set.
	Output *string `yaml:"output,omitempty"`
	// Error must be contained in the result's error, or in the call's
	// error for calls that fail.
	Error string `yaml:"error,omitempty"`
	// Halted expects the call to fail because the process halts or is
	// halted.
	Halted bool `yaml:"halted,omitempty"`
	// Messages is the number of outbound messages in the result.
	Messages *int `yaml:"messages,omitempty"`
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_contains": an event matches Kind, Process, Message and Output
	// - "trace_order": Events appear in order
	// - "trace_count": events matching Kind and Process occur Count times
	// - "final_state": the process state matches Expect
	// - "result": the result of Message in Process matches Output or Error
	// - "ledger_count": Count transactions carry every tag in Tags
	Type string `yaml:"type"`

	Kind    string  `yaml:"kind,omitempty"`
	Process string  `yaml:"process,omitempty"`
	Message string  `yaml:"message,omitempty"`
	Output  *string `yaml:"output,omitempty"`
	Error   string  `yaml:"error,omitempty"`

	// Events is the expected event order (used by trace_order). Each entry
	// is "<kind>:<name>" where name is a process or message alias.
	Events []string `yaml:"events,omitempty"`

	// Expect holds final_state fields: height, results, epochs (ints),
	// halted and hash_chain (bools).
	Expect map[string]any `yaml:"expect,omitempty"`

	// Tags select transactions (used by ledger_count). Values may
	// reference aliases.
	Tags Tags `yaml:"tags,omitempty"`

	// Count is the expected number of occurrences.
	Count int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
	AssertResult        = "result"
	AssertLedgerCount   = "ledger_count"
)

// Tags are ordered tags written as a YAML mapping. A sequence value
// repeats the name once per element.
//
//	tags:
//	  Action: Add
//	  Peer: [a, b]
type Tags ir.Tags

// UnmarshalYAML keeps the mapping's key order, which a Go map would lose.
func (t *Tags) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: tags must be a mapping", node.Line)
	}
	var tags ir.Tags
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, val := node.Content[i], node.Content[i+1]
		switch val.Kind {
		case yaml.ScalarNode:
			tags = append(tags, ir.Tag{Name: key.Value, Value: val.Value})
		case yaml.SequenceNode:
			for _, item := range val.Content {
				if item.Kind != yaml.ScalarNode {
					return fmt.Errorf("line %d: tag %q: list items must be scalars", item.Line, key.Value)
				}
				tags = append(tags, ir.Tag{Name: key.Value, Value: item.Value})
			}
		default:
			return fmt.Errorf("line %d: tag %q must be a scalar or a list", val.Line, key.Value)
		}
	}
	*t = Tags(tags)
	return nil
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving manifest and module source paths relative to basePath.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}
	scenario.BaseDir = basePath
	if scenario.Manifests != "" && !filepath.IsAbs(scenario.Manifests) && basePath != "" {
		scenario.Manifests = filepath.Join(basePath, scenario.Manifests)
	}
	if scenario.Manifests != "" {
		if _, err := os.Stat(scenario.Manifests); os.IsNotExist(err) {
			return nil, fmt.Errorf("invalid scenario: manifest directory not found: %s", scenario.Manifests)
		}
	}
	return scenario, nil
}

// ParseScenario parses scenario YAML with strict field validation, so a
// typo like "assertion:" fails instead of being ignored.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if (s.Manifest == "") == (s.Manifests == "") {
		return fmt.Errorf("exactly one of manifest and manifests is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	if s.MaxSteps < 0 {
		return fmt.Errorf("max_steps must be non-negative")
	}

	for i := range s.Steps {
		if err := validateStep(i, &s.Steps[i]); err != nil {
			return err
		}
	}
	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, s *Step) error {
	op, _ := s.Op()
	if op == "" {
		return fmt.Errorf("steps[%d]: exactly one operation is required", index)
	}
	if op == OpAssign && s.Ref == "" {
		return fmt.Errorf("steps[%d]: ref is required for assign", index)
	}
	if op == OpSpawn && s.As == "" {
		return fmt.Errorf("steps[%d]: as is required for spawn", index)
	}
	if s.Expect != nil && op != OpMessage && op != OpDryRun && op != OpAssign {
		return fmt.Errorf("steps[%d]: expect is only supported for message, dryrun and assign", index)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Kind == "" && a.Process == "" && a.Message == "" {
			return fmt.Errorf("assertions[%d]: kind, process or message is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Events) == 0 {
			return fmt.Errorf("assertions[%d]: events list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: kind is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if a.Process == "" {
			return fmt.Errorf("assertions[%d]: process is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	case AssertResult:
		if a.Process == "" || a.Message == "" {
			return fmt.Errorf("assertions[%d]: process and message are required for result", index)
		}
	case AssertLedgerCount:
		if len(a.Tags) == 0 {
			return fmt.Errorf("assertions[%d]: tags are required for ledger_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for ledger_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}

package compiler

import (
	"cuelang.org/go/cue"

	"github.com/roach88/aosim/internal/ir"
)

// CompileProcess parses a CUE value into a ProcessSpec.
//
//	process: ticker: {
//		module: "counter"
//		on_boot: "Data"
//		data: "10"
//		cron: {
//			interval: "5-seconds"
//			tags: { Action: "Add", Plus: "1" }
//		}
//		tags: { Name: "ticker" }
//	}
//
// The module field names a module manifest, not a ledger id; the loader
// resolves it after publishing.
func CompileProcess(v cue.Value) (*ir.ProcessSpec, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	def, err := schema(v, "Process")
	if err != nil {
		return nil, err
	}
	u := def.Unify(v)
	if err := u.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	spec := &ir.ProcessSpec{Name: label(v)}
	if spec.Module, err = stringField(u, "module"); err != nil {
		return nil, err
	}
	if spec.Data, err = stringField(u, "data"); err != nil {
		return nil, err
	}
	if spec.OnBoot, err = stringField(u, "on_boot"); err != nil {
		return nil, err
	}

	if cron := u.LookupPath(cue.ParsePath("cron")); cron.Exists() {
		if spec.CronInterval, err = stringField(cron, "interval"); err != nil {
			return nil, err
		}
		if spec.CronTags, err = parseTags(cron.LookupPath(cue.ParsePath("tags"))); err != nil {
			return nil, err
		}
	}

	if spec.Tags, err = parseTags(u.LookupPath(cue.ParsePath("tags"))); err != nil {
		return nil, err
	}
	return spec, nil
}

// SpawnTags returns the tags a spawn of spec carries besides the canonical
// process tags: the manifest tags, then On-Boot and the cron tags.
func SpawnTags(spec *ir.ProcessSpec) ir.Tags {
	tags := spec.Tags.Clone()
	if spec.OnBoot != "" {
		tags = tags.Append("On-Boot", spec.OnBoot)
	}
	if spec.CronInterval != "" {
		tags = tags.Append("Cron-Interval", spec.CronInterval)
		for _, t := range spec.CronTags {
			tags = tags.Append("Cron-Tag-"+t.Name, t.Value)
		}
	}
	return tags
}

// ModuleTags returns the tags a module published from spec carries besides
// the format: extension, availability and limits, then the manifest tags.
func ModuleTags(spec *ir.ModuleSpec) ir.Tags {
	var tags ir.Tags
	if spec.Extension != "" {
		tags = tags.Append("Extension", spec.Extension)
	}
	if spec.Availability != "" {
		tags = tags.Append("Availability-Type", spec.Availability)
	}
	if spec.MemoryLimit != "" {
		tags = tags.Append("Memory-Limit", spec.MemoryLimit)
	}
	if spec.ComputeLimit != "" {
		tags = tags.Append("Compute-Limit", spec.ComputeLimit)
	}
	return append(tags, spec.Tags...)
}

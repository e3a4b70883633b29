// Package config implements the Config Loader: it
// merges $HOME/.capsules.toml, ./Capsule.toml, $CAPSULE_ARGS, and CLI
// flags into one resolved Options struct, lowest to highest precedence.
// TOML parsing goes through github.com/spf13/viper, which pulls in
// pelletier/go-toml/v2 as its TOML engine.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/FollowTheProcess/capsules/internal/argsplit"
)

// Options is the fully resolved configuration for one invocation.
type Options struct {
	CapsuleID     string
	Passive       bool
	Placebo       bool
	InputsHash    bool
	Verbose       bool
	Inputs        []string
	ToolTags      []string
	Outputs       []string
	Backend       string // "s3" or "dummy"
	CacheFailures bool
	CapsuleJob    string
	S3Bucket      string
	S3BucketObjects string
	S3Endpoint    string
	S3Region      string
	HoneycombDataset  string
	HoneycombToken    string
	HoneycombTraceID  string
	HoneycombParentID string
	HoneycombKV       map[string]string
	InputsHashVar string

	// Reserved, not implemented: accepted and
	// rejected with a clear configuration error rather than guessed at.
	CaptureStdout bool
	CaptureStderr bool
}

// section is one [capsule.<id>] block in Capsule.toml.
type section struct {
	Inputs          []string          `mapstructure:"inputs"`
	ToolTags        []string          `mapstructure:"tool_tags"`
	Outputs         []string          `mapstructure:"outputs"`
	Backend         string            `mapstructure:"backend"`
	CacheFailures   bool              `mapstructure:"cache_failures"`
	S3Bucket        string            `mapstructure:"s3_bucket"`
	S3BucketObjects string            `mapstructure:"s3_bucket_objects"`
	S3Endpoint      string            `mapstructure:"s3_endpoint"`
	S3Region        string            `mapstructure:"s3_region"`
	HoneycombDataset string           `mapstructure:"honeycomb_dataset"`
	HoneycombToken  string            `mapstructure:"honeycomb_token"`
	InputsHashVar   string            `mapstructure:"inputs_hash_var"`
}

// fileConfig is the top-level shape of Capsule.toml / .capsules.toml.
type fileConfig struct {
	Capsule map[string]section `mapstructure:"capsule"`
}

// Load resolves Options from the layered sources described above, applying
// flags (already parsed into fl) as the highest-precedence layer.
func Load(fl *pflag.FlagSet, capsuleArgsEnv string) (Options, error) {
	v := viper.New()
	v.SetConfigType("toml")

	if home, err := os.UserHomeDir(); err == nil {
		globalPath := filepath.Join(home, ".capsules.toml")
		if _, statErr := os.Stat(globalPath); statErr == nil {
			v.SetConfigFile(globalPath)
			if err := v.MergeInConfig(); err != nil {
				return Options{}, fmt.Errorf("could not read %s: %w", globalPath, err)
			}
		}
	}

	if _, statErr := os.Stat("Capsule.toml"); statErr == nil {
		v.SetConfigFile("Capsule.toml")
		if err := v.MergeInConfig(); err != nil {
			return Options{}, fmt.Errorf("could not read Capsule.toml: %w", err)
		}
	}

	var fc fileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return Options{}, fmt.Errorf("could not parse capsule config: %w", err)
	}

	capsuleID, _ := fl.GetString("capsule_id")

	opts := Options{}
	if sec, ok := fc.Capsule[capsuleID]; ok {
		applySection(&opts, sec)
	} else if capsuleID != "" && len(fc.Capsule) > 0 {
		if suggestion := suggest(capsuleID, fc.Capsule); suggestion != "" {
			return Options{}, fmt.Errorf("no [capsule.%s] section in Capsule.toml. Did you mean %q?", capsuleID, suggestion)
		}
	}

	// $CAPSULE_ARGS: parsed as if it were additional CLI flags, applied
	// before (so overridden by) the flags the caller actually passed.
	if capsuleArgsEnv != "" {
		words, err := argsplit.Split(capsuleArgsEnv)
		if err != nil {
			return Options{}, fmt.Errorf("could not parse CAPSULE_ARGS: %w", err)
		}
		envFlags := pflag.NewFlagSet("capsule_args", pflag.ContinueOnError)
		RegisterFlags(envFlags)
		if err := envFlags.Parse(words); err != nil {
			return Options{}, fmt.Errorf("could not parse CAPSULE_ARGS: %w", err)
		}
		applyFlags(&opts, envFlags)
	}

	applyFlags(&opts, fl)
	opts.CapsuleID = capsuleID

	if opts.CaptureStdout || opts.CaptureStderr {
		return Options{}, fmt.Errorf("--capture_stdout/--capture_stderr are reserved and not implemented")
	}

	return opts, nil
}

func applySection(o *Options, s section) {
	o.Inputs = s.Inputs
	o.ToolTags = s.ToolTags
	o.Outputs = s.Outputs
	if s.Backend != "" {
		o.Backend = s.Backend
	}
	o.CacheFailures = s.CacheFailures
	o.S3Bucket = s.S3Bucket
	o.S3BucketObjects = s.S3BucketObjects
	o.S3Endpoint = s.S3Endpoint
	o.S3Region = s.S3Region
	o.HoneycombDataset = s.HoneycombDataset
	o.HoneycombToken = s.HoneycombToken
	if s.InputsHashVar != "" {
		o.InputsHashVar = s.InputsHashVar
	}
}

// applyFlags overlays any flag the caller actually changed on fl onto o.
// Flags never explicitly set are left at whatever the lower-precedence
// layer already put there.
func applyFlags(o *Options, fl *pflag.FlagSet) {
	fl.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "passive":
			o.Passive, _ = fl.GetBool("passive")
		case "placebo", "p":
			o.Placebo, _ = fl.GetBool("placebo")
		case "inputs_hash":
			o.InputsHash, _ = fl.GetBool("inputs_hash")
		case "verbose", "v":
			o.Verbose, _ = fl.GetBool("verbose")
		case "input", "i":
			o.Inputs, _ = fl.GetStringArray("input")
		case "tool_tag", "t":
			o.ToolTags, _ = fl.GetStringArray("tool_tag")
		case "output", "o":
			o.Outputs, _ = fl.GetStringArray("output")
		case "backend", "b":
			o.Backend, _ = fl.GetString("backend")
		case "cache_failures", "f":
			o.CacheFailures, _ = fl.GetBool("cache_failures")
		case "capsule_job", "j":
			o.CapsuleJob, _ = fl.GetString("capsule_job")
		case "s3_bucket":
			o.S3Bucket, _ = fl.GetString("s3_bucket")
		case "s3_bucket_objects":
			o.S3BucketObjects, _ = fl.GetString("s3_bucket_objects")
		case "s3_endpoint":
			o.S3Endpoint, _ = fl.GetString("s3_endpoint")
		case "s3_region":
			o.S3Region, _ = fl.GetString("s3_region")
		case "honeycomb_dataset":
			o.HoneycombDataset, _ = fl.GetString("honeycomb_dataset")
		case "honeycomb_token":
			o.HoneycombToken, _ = fl.GetString("honeycomb_token")
		case "honeycomb_trace_id":
			o.HoneycombTraceID, _ = fl.GetString("honeycomb_trace_id")
		case "honeycomb_parent_id":
			o.HoneycombParentID, _ = fl.GetString("honeycomb_parent_id")
		case "honeycomb_kv":
			kvs, _ := fl.GetStringArray("honeycomb_kv")
			o.HoneycombKV = parseKV(kvs)
		case "inputs_hash_var":
			o.InputsHashVar, _ = fl.GetString("inputs_hash_var")
		case "capture_stdout":
			o.CaptureStdout, _ = fl.GetBool("capture_stdout")
		case "capture_stderr":
			o.CaptureStderr, _ = fl.GetBool("capture_stderr")
		}
	})
}

func parseKV(pairs []string) map[string]string {
	if len(pairs) == 0 {
		return nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		for i := 0; i < len(p); i++ {
			if p[i] == '=' {
				out[p[:i]] = p[i+1:]
				break
			}
		}
	}
	return out
}

// suggest finds the closest capsule id to a typo'd one among the
// configured sections, the same "did you mean X?" fuzzy-match idiom used
// for typo'd names elsewhere in build tooling, applied here to capsule ids.
func suggest(id string, sections map[string]section) string {
	var names []string
	for name := range sections {
		names = append(names, name)
	}
	matches := fuzzy.RankFindFold(id, names)
	if len(matches) == 0 {
		// Subsequence matching misses transposed letters ("biuld" for
		// "build"), so fall back to the nearest name within edit distance 2.
		best, bestDist := "", 3
		for _, name := range names {
			d := fuzzy.LevenshteinDistance(id, name)
			if d < bestDist || (d == bestDist && best != "" && name < best) {
				best, bestDist = name, d
			}
		}
		return best
	}
	best := matches[0]
	for _, m := range matches {
		if m.Distance < best.Distance {
			best = m
		}
	}
	return best.Target
}

// RegisterFlags declares every capsules flag on fl, used
// both for the real CLI flag set and for parsing $CAPSULE_ARGS through the
// same definitions.
func RegisterFlags(fl *pflag.FlagSet) {
	fl.StringP("capsule_id", "c", "", "The capsule id to use, selecting a [capsule.<id>] section from Capsule.toml.")
	fl.Bool("passive", false, "Skip all cache logic; exec and exit with the child's status.")
	fl.BoolP("placebo", "p", false, "Always execute; compare cached and fresh outputs, always publish.")
	fl.Bool("inputs_hash", false, "Print the computed inputs hash and exit 0.")
	fl.BoolP("verbose", "v", false, "Enable debug logging.")
	fl.StringArrayP("input", "i", nil, "A glob pattern describing a declared input. Repeatable.")
	fl.StringArrayP("tool_tag", "t", nil, "An opaque tool tag contributed to the inputs hash. Repeatable.")
	fl.StringArrayP("output", "o", nil, "A glob pattern describing a declared output. Repeatable.")
	fl.StringP("backend", "b", "dummy", "The cache backend to use: s3 or dummy.")
	fl.BoolP("cache_failures", "f", false, "Treat a cached non-zero exit code as a hit instead of a miss.")
	fl.StringP("capsule_job", "j", "", "Opaque provenance string recorded on the published manifest.")
	fl.String("s3_bucket", "", "The S3 bucket used for the entry store.")
	fl.String("s3_bucket_objects", "", "The S3 bucket used for the blob store.")
	fl.String("s3_endpoint", "", "Override endpoint for a MinIO-style S3 peer.")
	fl.String("s3_region", "", "Override AWS region.")
	fl.String("honeycomb_dataset", "", "Honeycomb dataset to emit events to.")
	fl.String("honeycomb_token", "", "Honeycomb write key.")
	fl.String("honeycomb_trace_id", "", "Honeycomb trace id, generated if empty.")
	fl.String("honeycomb_parent_id", "", "Honeycomb parent span id.")
	fl.StringArray("honeycomb_kv", nil, "Extra k=v field for the emitted event. Repeatable.")
	fl.String("inputs_hash_var", "CAPSULE_INPUTS_HASH", "Env var name used to inject the inputs hash into the child.")
	fl.Bool("capture_stdout", false, "Reserved, not implemented.")
	fl.Bool("capture_stderr", false, "Reserved, not implemented.")
}

// DefaultTimeout is the default backend network timeout:
// short and seconds-scale so a hung backend degrades promptly.
const DefaultTimeout = 5 * time.Second

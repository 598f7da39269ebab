package validator

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// unsafePattern matches script injection and path traversal fragments.
var unsafePattern = regexp.MustCompile(`(?i)(<script|javascript:|data:|vbscript:|on\w+\s*=|\.\./|\.\.\\)`)

// generationTypes carry a free-text prompt that goes through the content filter.
var generationTypes = []string{
	"GenerateImage",
	"GenerateSound",
	"Generate3DModel",
	"GenerateShader",
	"GenerateScript",
	"GenerateAsset",
}

var parameterless = map[string]bool{
	"Ping":            true,
	"GetSceneInfo":    true,
	"GetCapabilities": true,
}

func requiresParameters(commandType string) bool {
	return !parameterless[commandType]
}

// IsSafe reports whether s is free of the deny-listed fragments.
func IsSafe(s string) bool {
	return !unsafePattern.MatchString(s)
}

type failure struct {
	code   RejectCode
	reason string
}

// check inspects a parameter map and returns nil when it passes.
type check func(params map[string]any) *failure

func buildRules(opts Options) map[string]check {
	name := requiredString("name", maxNameLength)
	object := requiredString("object", maxNameLength)
	active := requiredBool("active")
	coords := numbers("x", "y", "z")
	prompt := all(requiredString("prompt", opts.MaxPromptLength), safeString("prompt"))

	rules := map[string]check{
		"Log":               requiredString("message", opts.MaxStringLength),
		"FindGameObject":    name,
		"FindObject":        name,
		"SetActive":         all(object, active),
		"SetState":          all(object, active),
		"SetPosition":       all(object, coords),
		"MoveGameObject":    all(object, coords),
		"GetComponent":      all(object, requiredString("component", maxNameLength)),
		"SetComponentValue": all(object, requiredString("component", maxNameLength), requiredString("field", maxNameLength)),
	}
	for _, t := range generationTypes {
		rules[t] = prompt
	}
	return rules
}

func all(checks ...check) check {
	return func(params map[string]any) *failure {
		for _, c := range checks {
			if f := c(params); f != nil {
				return f
			}
		}
		return nil
	}
}

func present(key string) check {
	return func(params map[string]any) *failure {
		v, ok := params[key]
		if !ok {
			return invalid("Missing required parameter: %s", key)
		}
		if v == nil {
			return invalid("Parameter %s is null", key)
		}
		return nil
	}
}

func requiredString(key string, maxLen int) check {
	return func(params map[string]any) *failure {
		if f := present(key)(params); f != nil {
			return f
		}
		s := stringValue(params[key])
		if strings.TrimSpace(s) == "" {
			return invalid("Parameter %s is empty", key)
		}
		if utf8.RuneCountInString(s) > maxLen {
			return invalid("Parameter %s exceeds max length of %d", key, maxLen)
		}
		return nil
	}
}

func safeString(key string) check {
	return func(params map[string]any) *failure {
		if v, ok := params[key]; ok && v != nil && !IsSafe(stringValue(v)) {
			return &failure{
				code:   CodeUnsafeContent,
				reason: fmt.Sprintf("Parameter %s contains potentially dangerous content", key),
			}
		}
		return nil
	}
}

func requiredBool(key string) check {
	return func(params map[string]any) *failure {
		if f := present(key)(params); f != nil {
			return f
		}
		if _, ok := boolValue(params[key]); !ok {
			return invalid("Parameter %s must be a boolean", key)
		}
		return nil
	}
}

// numbers checks the keys that are present; absent keys pass.
func numbers(keys ...string) check {
	return func(params map[string]any) *failure {
		for _, key := range keys {
			v, ok := params[key]
			if !ok {
				continue
			}
			if _, ok := numberValue(v); !ok {
				return invalid("Parameter %s must be numeric", key)
			}
		}
		return nil
	}
}

// boundedStrings applies to types without a dedicated rule set.
func boundedStrings(maxLen int) check {
	return func(params map[string]any) *failure {
		for key, v := range params {
			s, ok := v.(string)
			if ok && utf8.RuneCountInString(s) > maxLen {
				return invalid("Parameter %s exceeds max length of %d", key, maxLen)
			}
		}
		return nil
	}
}

func invalid(format string, args ...any) *failure {
	return &failure{code: CodeInvalidParameter, reason: fmt.Sprintf(format, args...)}
}

func stringValue(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case fmt.Stringer:
		return s.String()
	default:
		return fmt.Sprint(v)
	}
}

func boolValue(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true":
			return true, true
		case "false":
			return false, true
		}
	}
	return false, false
}

func numberValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

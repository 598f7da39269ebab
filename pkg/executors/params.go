package executors

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"synbridge/pkg/models"
)

func stringParam(cmd models.Command, name string) string {
	v, ok := cmd.Param(name)
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func floatParam(cmd models.Command, name string) (float64, bool) {
	v, ok := cmd.Param(name)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
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

func boolParam(cmd models.Command, name string) bool {
	v, _ := cmd.Param(name)
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return strings.EqualFold(strings.TrimSpace(b), "true")
	}
	return false
}

package out

import (
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/ggonzalez94/swapexec/internal/config"
	"github.com/ggonzalez94/swapexec/internal/model"
)

func Render(w io.Writer, env model.Envelope, settings config.Settings) error {
	data := env.Data
	if len(settings.SelectFields) > 0 {
		data = project(data, settings.SelectFields)
	}

	if settings.ResultsOnly {
		if settings.OutputMode == "json" {
			return encodeJSON(w, data)
		}
		return renderPlain(w, data)
	}

	if settings.OutputMode == "json" {
		env.Data = data
		return encodeJSON(w, env)
	}

	plain := map[string]any{
		"success":  env.Success,
		"data":     data,
		"warnings": env.Warnings,
		"meta":     env.Meta,
	}
	if env.Error != nil {
		plain["error"] = env.Error
	}
	return renderPlain(w, plain)
}

func encodeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// renderPlain prints one line per item. Nested values are flattened into
// dotted keys such as steps.0.status=success.
func renderPlain(w io.Writer, data any) error {
	v := reflect.ValueOf(data)
	if !v.IsValid() {
		_, err := fmt.Fprintln(w, "null")
		return err
	}

	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		if v.Len() == 0 {
			_, err := fmt.Fprintln(w, "[]")
			return err
		}
		for i := 0; i < v.Len(); i++ {
			if _, err := fmt.Fprintln(w, toLine(normalizeValue(v.Index(i).Interface()))); err != nil {
				return err
			}
		}
		return nil
	default:
		_, err := fmt.Fprintln(w, toLine(normalizeValue(data)))
		return err
	}
}

// project keeps the selected fields. A dotted path descends through arrays,
// so steps.status keeps the status of every step.
func project(data any, fields []string) any {
	n := normalizeValue(data)
	switch t := n.(type) {
	case []any:
		out := make([]map[string]any, 0, len(t))
		for _, item := range t {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			out = append(out, projectMap(m, fields))
		}
		return out
	case map[string]any:
		return projectMap(t, fields)
	default:
		return n
	}
}

func projectMap(m map[string]any, fields []string) map[string]any {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		path := strings.Split(strings.TrimSpace(f), ".")
		if v, ok := subtree(m, path); ok {
			if sub, ok := v.(map[string]any); ok {
				merge(out, sub)
			}
		}
	}
	return out
}

// subtree returns v restricted to path. Arrays keep every element that has
// the path.
func subtree(v any, path []string) (any, bool) {
	if len(path) == 0 {
		return v, true
	}
	switch t := v.(type) {
	case map[string]any:
		next, ok := t[path[0]]
		if !ok {
			return nil, false
		}
		inner, ok := subtree(next, path[1:])
		if !ok {
			return nil, false
		}
		return map[string]any{path[0]: inner}, true
	case []any:
		items := make([]any, 0, len(t))
		for _, item := range t {
			if got, ok := subtree(item, path); ok {
				items = append(items, got)
			}
		}
		return items, len(items) > 0
	default:
		return nil, false
	}
}

func merge(dst, src map[string]any) {
	for k, v := range src {
		existing, ok := dst[k]
		if !ok {
			dst[k] = v
			continue
		}
		switch e := existing.(type) {
		case map[string]any:
			if m, ok := v.(map[string]any); ok {
				merge(e, m)
			}
		case []any:
			items, ok := v.([]any)
			if !ok || len(items) != len(e) {
				continue
			}
			for i := range e {
				em, ok1 := e[i].(map[string]any)
				im, ok2 := items[i].(map[string]any)
				if ok1 && ok2 {
					merge(em, im)
				}
			}
		}
	}
}

func normalizeValue(v any) any {
	buf, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(buf, &out); err != nil {
		return v
	}
	return out
}

func toLine(v any) string {
	switch v.(type) {
	case map[string]any, []any:
		flat := map[string]string{}
		flatten("", v, flat)
		keys := make([]string, 0, len(flat))
		for k := range flat {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+"="+flat[k])
		}
		return strings.Join(parts, " ")
	default:
		return scalar(v)
	}
}

func flatten(prefix string, v any, dst map[string]string) {
	join := func(k string) string {
		if prefix == "" {
			return k
		}
		return prefix + "." + k
	}
	switch t := v.(type) {
	case map[string]any:
		if len(t) == 0 && prefix != "" {
			dst[prefix] = "{}"
		}
		for k, val := range t {
			flatten(join(k), val, dst)
		}
	case []any:
		if len(t) == 0 && prefix != "" {
			dst[prefix] = "[]"
		}
		for i, val := range t {
			flatten(join(strconv.Itoa(i)), val, dst)
		}
	default:
		dst[prefix] = scalar(v)
	}
}

func scalar(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		if strings.ContainsAny(t, " \t\n") {
			return strconv.Quote(t)
		}
		return t
	default:
		return fmt.Sprintf("%v", t)
	}
}

package validation

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kailas-cloud/cmskit/internal/domain/entity"
	"github.com/kailas-cloud/cmskit/internal/domain/property"
)

// rule reports the code and message of a failed check.
type rule func(v any) (code Code, msg string, failed bool)

func isString(v any) bool {
	_, ok := v.(string)
	return ok
}

func isBool(v any) bool {
	_, ok := v.(bool)
	return ok
}

func isNumber(v any) bool {
	_, ok := v.(float64)
	return ok
}

func isTime(v any) bool {
	_, ok := v.(time.Time)
	return ok
}

func isGeoPoint(v any) bool {
	_, ok := entity.AsGeoPoint(v)
	return ok
}

func isReference(v any) bool {
	_, ok := entity.AsReference(v)
	return ok
}

func isMap(v any) bool {
	_, ok := entity.AsMap(v)
	return ok
}

func isArray(v any) bool {
	_, ok := entity.AsSlice(v)
	return ok
}

// toNumber coerces numeric input to float64 and leaves anything else for
// the type check to reject.
func toNumber(v any) any {
	if f, ok := entity.AsFloat(v); ok {
		return f
	}
	if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
		return nil
	}
	return v
}

func toTime(v any) any {
	if t, ok := entity.AsTime(v); ok {
		return t
	}
	return v
}

func stringTransform(val *property.Validation) func(any) any {
	if !val.Trim && !val.Lowercase && !val.Uppercase {
		return nil
	}
	return func(v any) any {
		s, ok := v.(string)
		if !ok {
			return v
		}
		if val.Trim {
			s = strings.TrimSpace(s)
		}
		if val.Lowercase {
			s = strings.ToLower(s)
		}
		if val.Uppercase {
			s = strings.ToUpper(s)
		}
		return s
	}
}

func stringRule(code Code, msg string, ok func(string) bool) rule {
	return func(v any) (Code, string, bool) {
		s, _ := v.(string)
		if s == "" || ok(s) {
			return "", "", false
		}
		return code, msg, true
	}
}

func minLength(n int) rule {
	return func(v any) (Code, string, bool) {
		s, _ := v.(string)
		if utf8.RuneCountInString(s) >= n {
			return "", "", false
		}
		return CodeMin, fmt.Sprintf("Must be at least %d characters", n), true
	}
}

func maxLength(n int) rule {
	return func(v any) (Code, string, bool) {
		s, _ := v.(string)
		if utf8.RuneCountInString(s) <= n {
			return "", "", false
		}
		return CodeMax, fmt.Sprintf("Must be at most %d characters", n), true
	}
}

func matches(re *regexp.Regexp, msg string) rule {
	if msg == "" {
		msg = fmt.Sprintf("Must match the following: %q", re.String())
	}
	return stringRule(CodeMatches, msg, re.MatchString)
}

func oneOfEnum(values property.EnumValues) rule {
	labels := make([]string, len(values))
	for i, ev := range values {
		labels[i] = fmt.Sprint(ev.Key)
	}
	msg := "Must be one of the following values: " + strings.Join(labels, ", ")
	return func(v any) (Code, string, bool) {
		if values.Contains(v) {
			return "", "", false
		}
		return CodeEnum, msg, true
	}
}

func numberRule(code Code, msg string, ok func(float64) bool) rule {
	return func(v any) (Code, string, bool) {
		f, _ := v.(float64)
		if ok(f) {
			return "", "", false
		}
		return code, msg, true
	}
}

func timeRule(code Code, msg string, ok func(ms int64) bool) rule {
	return func(v any) (Code, string, bool) {
		t, _ := v.(time.Time)
		if ok(t.UnixMilli()) {
			return "", "", false
		}
		return code, msg, true
	}
}

func arrayLength(code Code, msg string, ok func(n int) bool) rule {
	return func(v any) (Code, string, bool) {
		items, _ := entity.AsSlice(v)
		if ok(len(items)) {
			return "", "", false
		}
		return code, msg, true
	}
}

// uniqueElements rejects arrays holding the same element twice. With a
// non-empty field it compares that child of map elements instead;
// elements missing the child are ignored.
func uniqueElements(msg, field string) rule {
	return func(v any) (Code, string, bool) {
		items, _ := entity.AsSlice(v)
		seen := make(map[string]bool, len(items))
		for _, item := range items {
			if field != "" {
				m, ok := entity.AsMap(item)
				if !ok {
					continue
				}
				item = m[field]
			}
			if item == nil {
				continue
			}
			key := canonicalKey(item)
			if seen[key] {
				return CodeUniqueInArray, msg, true
			}
			seen[key] = true
		}
		return "", "", false
	}
}

// canonicalKey renders a value so that structurally equal values collide.
// encoding/json sorts map keys, which makes the rendering canonical.
func canonicalKey(v any) string {
	if f, ok := entity.AsFloat(v); ok {
		if _, isString := v.(string); !isString {
			return property.EnumKey(f)
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%#v", v)
	}
	return string(data)
}

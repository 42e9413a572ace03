// Package signing implements the canonical key=value string shared by every
// provider and by the merchant API, plus the keyed-hash schemes built on it.
package signing

import (
	"bytes"
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
)

// SignField is the conventional name of the signature parameter.
const SignField = "sign"

// Canonical drops the excluded keys (SignField when none are given) and empty
// values, sorts the remaining keys by byte order and joins them as k=v pairs
// separated by '&'.
func Canonical(params map[string]string, exclude ...string) string {
	if len(exclude) == 0 {
		exclude = []string{SignField}
	}
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if v == "" || contains(exclude, k) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}
	return b.String()
}

// MD5 returns md5(canonical + "&key=" + secret) as hex in the requested case.
func MD5(params map[string]string, secret string, upper bool) string {
	sum := md5.Sum([]byte(Canonical(params) + "&key=" + secret))
	digest := hex.EncodeToString(sum[:])
	if upper {
		return strings.ToUpper(digest)
	}
	return digest
}

// HMACSHA256 returns the lowercase hex HMAC-SHA256 of the canonical string.
func HMACSHA256(params map[string]string, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(Canonical(params)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Equal compares two signatures in constant time. Case is significant.
func Equal(expected, got string) bool {
	if got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(got)) == 1
}

// FlattenJSON decodes a JSON object into the string map used for
// canonicalization. Numbers keep their literal text, nulls are dropped and
// nested values are re-encoded as compact JSON.
func FlattenJSON(body []byte) (map[string]string, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode json object: %w", err)
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		s, err := Stringify(v)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", k, err)
		}
		if s != "" {
			out[k] = s
		}
	}
	return out, nil
}

// Stringify renders a decoded JSON value the way it appears in a canonical string.
func Stringify(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case json.Number:
		return t.String(), nil
	case bool:
		return strconv.FormatBool(t), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(t), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

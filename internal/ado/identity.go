package ado

import "fmt"

// identityKeys lists the identity object keys consulted, highest priority first.
var identityKeys = []string{"displayName", "uniqueName"}

// IdentityName normalizes an identity field to a display name. The backend
// sends identities as a plain string, as an identity object, or not at all.
// Objects without any of identityKeys yield nil; other scalars are coerced
// to their string form.
func IdentityName(v interface{}) *string {
	switch id := v.(type) {
	case nil:
		return nil
	case string:
		return &id
	case map[string]interface{}:
		for _, k := range identityKeys {
			if s, ok := id[k].(string); ok && s != "" {
				return &s
			}
		}
		return nil
	default:
		s := fmt.Sprint(id)
		return &s
	}
}

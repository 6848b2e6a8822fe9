package cache

import "strings"

// Namespace prefixes every cache key written by this service so that a
// shared Redis can be swept per application.
const Namespace = "paydash"

// Key builds a namespaced cache key from its parts:
// Key("rules", "merchant", "mch_1") -> "paydash:rules:merchant:mch_1".
// Passing "*" as the last part yields a glob usable with DeleteByPattern.
func Key(parts ...string) string {
	return Namespace + ":" + strings.Join(parts, ":")
}

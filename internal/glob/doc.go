// Package glob implements kind matching for the broker.
//
// A kind is a slash-delimited topic string such as "irc/in". Plugins choose
// which kinds they receive with a list of filters ("globs"). The grammar is
// deliberately small and has exactly three forms:
//
//	*            matches every kind
//	irc/*        matches every kind starting with "irc/"
//	irc/in       matches only "irc/in"
//
// Any other use of '*' is rejected. There is no backtracking and no regular
// expression semantics. Comparison is done on runes, so multi-byte segments
// such as "café/*" behave as expected.
//
// # Usage
//
//	set, err := glob.NewSet([]string{"irc/*", "log/error"})
//	if err != nil {
//	    return err // names the first invalid filter
//	}
//	if set.Match("irc/in") {
//	    // deliver
//	}
package glob

package store

import (
	"database/sql/driver"
	"fmt"
	"regexp"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"modernc.org/sqlite"
)

// patterns caches compiled regexps across queries; a wildcard filter is
// evaluated once per row so compiling per call is not an option.
var patterns *lru.Cache[string, *regexp.Regexp]

func init() {
	var err error
	patterns, err = lru.New[string, *regexp.Regexp](1024)
	if err != nil {
		panic(err)
	}
	// regexp(pattern, value) backs "value REGEXP pattern" in SQLite.
	if err := sqlite.RegisterDeterministicScalarFunction("regexp", 2, sqliteRegexp); err != nil {
		panic(fmt.Sprintf("registering sqlite regexp function: %v", err))
	}
	// SQLite's LOWER only folds ASCII; fold(value) lowers any letter.
	if err := sqlite.RegisterDeterministicScalarFunction("fold", 1, sqliteFold); err != nil {
		panic(fmt.Sprintf("registering sqlite fold function: %v", err))
	}
}

func sqliteFold(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	value, ok := text(args[0])
	if !ok {
		return nil, nil
	}
	return strings.ToLower(value), nil
}

func sqliteRegexp(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	pattern, ok := text(args[0])
	if !ok {
		return nil, nil
	}
	value, ok := text(args[1])
	if !ok {
		return nil, nil
	}
	re, err := compilePattern(pattern)
	if err != nil {
		return nil, err
	}
	if re.MatchString(value) {
		return int64(1), nil
	}
	return int64(0), nil
}

func compilePattern(pattern string) (*regexp.Regexp, error) {
	if re, ok := patterns.Get(pattern); ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	patterns.Add(pattern, re)
	return re, nil
}

func text(v driver.Value) (string, bool) {
	switch v := v.(type) {
	case string:
		return v, true
	case []byte:
		return string(v), true
	case nil:
		return "", false
	default:
		return fmt.Sprint(v), true
	}
}

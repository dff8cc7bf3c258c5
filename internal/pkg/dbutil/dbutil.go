package dbutil

import (
	"regexp"
	"strings"

	"github.com/jmoiron/sqlx"
)

// mysqlLimit matches the "LIMIT ?, ?" form gendry emits for _limit.
var mysqlLimit = regexp.MustCompile(`(?i)LIMIT\s+\?\s*,\s*\?`)

// Finalize turns a gendry statement into one postgres accepts: the
// offset/limit pair is rewritten to "LIMIT ? OFFSET ?" with its arguments
// swapped, then placeholders are rebound to $N.
func Finalize(query string, args []interface{}) (string, []interface{}) {
	if loc := mysqlLimit.FindStringIndex(query); loc != nil {
		pos := strings.Count(query[:loc[0]], "?")
		if pos+1 < len(args) {
			args[pos], args[pos+1] = args[pos+1], args[pos]
			query = query[:loc[0]] + "LIMIT ? OFFSET ?" + query[loc[1]:]
		}
	}
	return sqlx.Rebind(sqlx.DOLLAR, query), args
}

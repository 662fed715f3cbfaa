package utils

import (
	"fmt"
	"strings"
)

// QuoteIdentifier quotes an identifier based on the specified SQL dialect.
// The lake gateway (Spark SQL) uses backticks, like MySQL. Handles basic
// escaping for the quote character itself within the name.
func QuoteIdentifier(name, dialect string) string {
	dialect = strings.ToLower(dialect)
	switch dialect {
	case "mysql", "sparksql":
		return fmt.Sprintf("`%s`", strings.ReplaceAll(name, "`", "``"))
	case "postgres", "sqlite":
		return fmt.Sprintf("\"%s\"", strings.ReplaceAll(name, "\"", "\"\""))
	default:
		// ANSI double quotes for anything unknown.
		return fmt.Sprintf("\"%s\"", strings.ReplaceAll(name, "\"", "\"\""))
	}
}

// UnquoteIdentifier removes dialect-specific quotes from an identifier and
// unescapes quote characters within the name. If the input is not quoted in
// the way expected for the dialect, it is returned unchanged.
func UnquoteIdentifier(quotedName, dialect string) string {
	name := strings.TrimSpace(quotedName)
	if len(name) < 2 {
		return name
	}

	firstChar := name[0]
	lastChar := name[len(name)-1]
	var quoteChar byte
	var escapeSequence, originalChar string

	switch strings.ToLower(dialect) {
	case "mysql", "sparksql":
		if firstChar == '`' && lastChar == '`' {
			quoteChar = '`'
			escapeSequence = "``"
			originalChar = "`"
		}
	case "postgres", "sqlite":
		if firstChar == '"' && lastChar == '"' {
			quoteChar = '"'
			escapeSequence = "\"\""
			originalChar = "\""
		}
	default:
		if firstChar == '"' && lastChar == '"' {
			quoteChar = '"'
			escapeSequence = "\"\""
			originalChar = "\""
		} else {
			return name
		}
	}

	if quoteChar != 0 {
		unquotedContent := name[1 : len(name)-1]
		return strings.ReplaceAll(unquotedContent, escapeSequence, originalChar)
	}

	return name
}

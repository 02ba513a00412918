// Licensed to the Apache Software Foundation (ASF) under one
// or more contributor license agreements.  See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership.  The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License.  You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

package binding

import (
	"strings"
	"unicode"
)

// Verb is the leading keyword class of a statement.
type Verb uint8

const (
	VerbOther Verb = iota
	VerbSelect
	VerbInsert
	VerbUpdate
	VerbDelete
	VerbMerge
	VerbCall
	VerbDDL
)

var verbNames = [...]string{"OTHER", "SELECT", "INSERT", "UPDATE", "DELETE", "MERGE", "CALL", "DDL"}

func (v Verb) String() string {
	if int(v) < len(verbNames) {
		return verbNames[v]
	}
	return verbNames[VerbOther]
}

// ReturnsRows reports whether statements of this class produce a cursor.
func (v Verb) ReturnsRows() bool { return v == VerbSelect }

var verbs = map[string]Verb{
	"SELECT":   VerbSelect,
	"WITH":     VerbSelect,
	"VALUES":   VerbSelect,
	"INSERT":   VerbInsert,
	"UPDATE":   VerbUpdate,
	"DELETE":   VerbDelete,
	"MERGE":    VerbMerge,
	"UPSERT":   VerbMerge,
	"CALL":     VerbCall,
	"BEGIN":    VerbCall,
	"DECLARE":  VerbCall,
	"EXEC":     VerbCall,
	"EXECUTE":  VerbCall,
	"CREATE":   VerbDDL,
	"ALTER":    VerbDDL,
	"DROP":     VerbDDL,
	"TRUNCATE": VerbDDL,
	"RENAME":   VerbDDL,
	"COMMENT":  VerbDDL,
	"GRANT":    VerbDDL,
	"REVOKE":   VerbDDL,
}

// scanner walks statement text outside of literals, quoted identifiers
// and comments.
type scanner struct {
	s   string
	pos int
}

// skip moves past whitespace, comments and, when skipQuoted is set, string
// literals and quoted identifiers. It reports whether anything was
// skipped.
func (sc *scanner) skip(skipQuoted bool) bool {
	start := sc.pos
	s := sc.s
	for sc.pos < len(s) {
		switch {
		case s[sc.pos] == ' ' || s[sc.pos] == '\t' || s[sc.pos] == '\n' || s[sc.pos] == '\r':
			sc.pos++
		case strings.HasPrefix(s[sc.pos:], "--"):
			if nl := strings.IndexByte(s[sc.pos:], '\n'); nl >= 0 {
				sc.pos += nl + 1
			} else {
				sc.pos = len(s)
			}
		case strings.HasPrefix(s[sc.pos:], "/*"):
			if end := strings.Index(s[sc.pos+2:], "*/"); end >= 0 {
				sc.pos += end + 4
			} else {
				sc.pos = len(s)
			}
		case skipQuoted && (s[sc.pos] == '\'' || s[sc.pos] == '"' || s[sc.pos] == '`'):
			sc.skipQuoted(s[sc.pos])
		default:
			return sc.pos > start
		}
	}
	return sc.pos > start
}

// skipQuoted moves past a quoted section; a doubled quote is an escape.
func (sc *scanner) skipQuoted(q byte) {
	sc.pos++
	for sc.pos < len(sc.s) {
		if sc.s[sc.pos] == q {
			if sc.pos+1 < len(sc.s) && sc.s[sc.pos+1] == q {
				sc.pos += 2
				continue
			}
			sc.pos++
			return
		}
		sc.pos++
	}
}

func isNameByte(c byte) bool {
	return c == '_' || c == '$' || c == '#' || c >= 0x80 ||
		unicode.IsLetter(rune(c)) || unicode.IsDigit(rune(c))
}

// CountPlaceholders counts the bind markers of query: every `?`, and each
// distinct `:name`, `:1` or `$1` marker. Markers inside literals, quoted
// identifiers and comments are ignored, as are `::` casts and `:=`
// assignments.
func CountPlaceholders(query string) int {
	sc := &scanner{s: query}
	positional := 0
	named := map[string]struct{}{}
	for sc.pos < len(query) {
		if sc.skip(true) {
			continue
		}
		c := query[sc.pos]
		switch c {
		case '?':
			positional++
			sc.pos++
		case ':':
			next := sc.pos + 1
			if next < len(query) && (query[next] == ':' || query[next] == '=') {
				sc.pos += 2
				continue
			}
			end := next
			for end < len(query) && isNameByte(query[end]) {
				end++
			}
			if end > next {
				named[":"+strings.ToUpper(query[next:end])] = struct{}{}
			}
			sc.pos = max(end, next)
		case '$':
			next := sc.pos + 1
			end := next
			for end < len(query) && query[end] >= '0' && query[end] <= '9' {
				end++
			}
			if end > next {
				named[query[sc.pos:end]] = struct{}{}
			}
			sc.pos = max(end, next)
		default:
			sc.pos++
		}
	}
	return positional + len(named)
}

// ClassifyVerb classifies query by its first keyword. Leading comments,
// parentheses and the `{call ...}` escape syntax are skipped.
func ClassifyVerb(query string) Verb {
	sc := &scanner{s: query}
	for {
		sc.skip(false)
		if sc.pos < len(query) && (query[sc.pos] == '(' || query[sc.pos] == '{') {
			sc.pos++
			continue
		}
		break
	}
	rest := query[sc.pos:]
	if strings.HasPrefix(rest, "?") {
		// {? = call f(?)}
		return VerbCall
	}
	end := strings.IndexFunc(rest, func(r rune) bool { return !unicode.IsLetter(r) })
	if end < 0 {
		end = len(rest)
	}
	if v, ok := verbs[strings.ToUpper(rest[:end])]; ok {
		return v
	}
	return VerbOther
}

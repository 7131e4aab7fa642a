package condition

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokenEOF tokenKind = iota
	tokenRef
	tokenString
	tokenNumber
	tokenTrue
	tokenFalse
	tokenNull
	tokenAnd
	tokenOr
	tokenNot
	tokenEq
	tokenNe
	tokenLt
	tokenLe
	tokenGt
	tokenGe
	tokenLParen
	tokenRParen
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

// lex tokenizes a condition expression. The grammar is deliberately tiny:
// ${path} references, quoted strings, numbers, booleans, null, comparison
// and boolean operators, parentheses.
func lex(input string) ([]token, error) {
	var tokens []token
	i := 0
	n := len(input)

	for i < n {
		c := input[i]

		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++

		case c == '(':
			tokens = append(tokens, token{tokenLParen, "(", i})
			i++
		case c == ')':
			tokens = append(tokens, token{tokenRParen, ")", i})
			i++

		case c == '$' && i+1 < n && input[i+1] == '{':
			end := strings.IndexByte(input[i:], '}')
			if end < 0 {
				return nil, fmt.Errorf("unterminated reference at position %d", i)
			}
			path := input[i+2 : i+end]
			if path == "" {
				return nil, fmt.Errorf("empty reference at position %d", i)
			}
			tokens = append(tokens, token{tokenRef, path, i})
			i += end + 1

		case c == '\'' || c == '"':
			quote := c
			j := i + 1
			for j < n && input[j] != quote {
				j++
			}
			if j >= n {
				return nil, fmt.Errorf("unterminated string at position %d", i)
			}
			tokens = append(tokens, token{tokenString, input[i+1 : j], i})
			i = j + 1

		case c == '&':
			if i+1 >= n || input[i+1] != '&' {
				return nil, fmt.Errorf("unexpected '&' at position %d", i)
			}
			tokens = append(tokens, token{tokenAnd, "&&", i})
			i += 2
		case c == '|':
			if i+1 >= n || input[i+1] != '|' {
				return nil, fmt.Errorf("unexpected '|' at position %d", i)
			}
			tokens = append(tokens, token{tokenOr, "||", i})
			i += 2

		case c == '=':
			if i+1 >= n || input[i+1] != '=' {
				return nil, fmt.Errorf("unexpected '=' at position %d", i)
			}
			tokens = append(tokens, token{tokenEq, "==", i})
			i += 2
		case c == '!':
			if i+1 < n && input[i+1] == '=' {
				tokens = append(tokens, token{tokenNe, "!=", i})
				i += 2
			} else {
				tokens = append(tokens, token{tokenNot, "!", i})
				i++
			}
		case c == '<':
			if i+1 < n && input[i+1] == '=' {
				tokens = append(tokens, token{tokenLe, "<=", i})
				i += 2
			} else {
				tokens = append(tokens, token{tokenLt, "<", i})
				i++
			}
		case c == '>':
			if i+1 < n && input[i+1] == '=' {
				tokens = append(tokens, token{tokenGe, ">=", i})
				i += 2
			} else {
				tokens = append(tokens, token{tokenGt, ">", i})
				i++
			}

		case c >= '0' && c <= '9' || c == '-' && i+1 < n && input[i+1] >= '0' && input[i+1] <= '9':
			j := i + 1
			for j < n && (input[j] >= '0' && input[j] <= '9' || input[j] == '.') {
				j++
			}
			tokens = append(tokens, token{tokenNumber, input[i:j], i})
			i = j

		case unicode.IsLetter(rune(c)):
			j := i + 1
			for j < n && (unicode.IsLetter(rune(input[j])) || unicode.IsDigit(rune(input[j])) || input[j] == '_') {
				j++
			}
			word := input[i:j]
			switch word {
			case "true":
				tokens = append(tokens, token{tokenTrue, word, i})
			case "false":
				tokens = append(tokens, token{tokenFalse, word, i})
			case "null":
				tokens = append(tokens, token{tokenNull, word, i})
			default:
				return nil, fmt.Errorf("unknown identifier %q at position %d", word, i)
			}
			i = j

		default:
			return nil, fmt.Errorf("unexpected character %q at position %d", c, i)
		}
	}

	tokens = append(tokens, token{tokenEOF, "", n})
	return tokens, nil
}

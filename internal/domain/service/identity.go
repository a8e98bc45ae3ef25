package service

import (
	"strings"
	"unicode"
)

// namePlaceholders 常见的无效自称，视为未提供真名
var namePlaceholders = map[string]bool{
	"user":     true,
	"iphone":   true,
	"android":  true,
	"whatsapp": true,
	"telegram": true,
	"me":       true,
	"hi":       true,
	"hello":    true,
	"hey":      true,
	"test":     true,
	"unknown":  true,
	"null":     true,
	"none":     true,
	".":        true,
}

// IsValidName reports whether a self-reported or push name looks like a
// real human name. Placeholder device names, emoji-only strings and
// mostly-numeric strings do not count: contacts carrying those get asked
// to identify themselves.
func IsValidName(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}

	runes := []rune(name)
	if len(runes) < 2 || len(runes) > 50 {
		return false
	}

	if namePlaceholders[strings.ToLower(name)] {
		return false
	}

	var letters, digits, special int
	for _, r := range runes {
		switch {
		case unicode.IsLetter(r):
			letters++
		case unicode.IsDigit(r):
			digits++
		case unicode.IsSpace(r):
			// 空格中性，不计入任何一类
		default:
			special++
		}
	}

	// 必须含字母；纯 emoji、纯符号、纯数字都不算名字
	if letters == 0 {
		return false
	}
	total := float64(len(runes))
	if float64(digits)/total > 0.7 {
		return false
	}
	if float64(special)/total > 0.5 {
		return false
	}
	return true
}

package customer

import (
	"fmt"
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/hitoshi/customerbook/internal/model"
)

const (
	msgRequired = "This field is required."
	msgBlank    = "This field may not be blank."
	msgEmail    = "Enter a valid email address."
)

// fieldSpec は書き込み可能フィールドの名前と最大文字数。
type fieldSpec struct {
	name   string
	maxLen int
	email  bool
	value  func(in *model.CustomerInput) **string
}

// writableFields はJSON上の出現順に並べた書き込み可能フィールド。
var writableFields = []fieldSpec{
	{name: "first_name", maxLen: 100, value: func(in *model.CustomerInput) **string { return &in.FirstName }},
	{name: "last_name", maxLen: 100, value: func(in *model.CustomerInput) **string { return &in.LastName }},
	{name: "email", maxLen: 254, email: true, value: func(in *model.CustomerInput) **string { return &in.Email }},
	{name: "phone", maxLen: 30, value: func(in *model.CustomerInput) **string { return &in.Phone }},
	{name: "address", maxLen: 255, value: func(in *model.CustomerInput) **string { return &in.Address }},
}

// normalize は指定されたフィールドの前後の空白を除去する。
func normalize(in *model.CustomerInput) {
	for _, f := range writableFields {
		p := f.value(in)
		if *p != nil {
			v := strings.TrimSpace(**p)
			*p = &v
		}
	}
}

// validate は入力を検証し、フィールド単位のエラーを返す。
// requireAll がtrueの場合は全フィールドを必須とする（作成・全置換更新）。
// falseの場合は指定されたフィールドのみを検証する（部分更新）。
func validate(in *model.CustomerInput, requireAll bool) map[string][]string {
	errs := map[string][]string{}

	for _, f := range writableFields {
		p := *f.value(in)
		if p == nil {
			if requireAll {
				errs[f.name] = []string{msgRequired}
			}
			continue
		}

		v := *p
		switch {
		case v == "":
			errs[f.name] = append(errs[f.name], msgBlank)
		case utf8.RuneCountInString(v) > f.maxLen:
			errs[f.name] = append(errs[f.name], maxLenMessage(f.maxLen))
		case f.email && !isValidEmail(v):
			errs[f.name] = append(errs[f.name], msgEmail)
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}

// isValidEmail は表示名や山括弧を含まない素のメールアドレスかどうかを判定する。
func isValidEmail(v string) bool {
	addr, err := mail.ParseAddress(v)
	if err != nil || addr.Address != v {
		return false
	}
	at := strings.LastIndex(v, "@")
	return at > 0 && strings.Contains(v[at+1:], ".")
}

func maxLenMessage(n int) string {
	return fmt.Sprintf("Ensure this field has no more than %d characters.", n)
}

// Copyright 2025 The Finagent Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package evidence

import (
	"fmt"
	"math"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Formatter renders fact values as locale-correct strings. The formatted
// string is the authority form: the synthesizer must quote numbers exactly
// as formatted here.
type Formatter struct {
	lang    string
	printer *message.Printer
}

// NewFormatter builds a formatter for "vi" or "en". Unknown languages fall
// back to Vietnamese, the service default.
func NewFormatter(lang string) *Formatter {
	tag := language.Vietnamese
	if lang == "en" {
		tag = language.English
	}
	return &Formatter{lang: lang, printer: message.NewPrinter(tag)}
}

// Money formats a VND amount. Amounts are whole dong; fractions from tool
// arithmetic are rounded half away from zero.
func (f *Formatter) Money(v float64) string {
	return f.printer.Sprintf("%d VND", int64(math.Round(v)))
}

// Percent formats a 0..1 ratio as a percentage with one decimal, trimming a
// trailing ",0"/".0".
func (f *Formatter) Percent(ratio float64) string {
	s := f.printer.Sprintf("%.1f", ratio*100)
	s = strings.TrimSuffix(s, ",0")
	s = strings.TrimSuffix(s, ".0")
	return s + "%"
}

// Number formats a bare number, keeping at most one decimal.
func (f *Formatter) Number(v float64) string {
	if v == math.Trunc(v) {
		return f.printer.Sprintf("%d", int64(v))
	}
	return f.printer.Sprintf("%.1f", v)
}

// Months formats a month count, e.g. runway.
func (f *Formatter) Months(v float64) string {
	if f.lang == "en" {
		return f.Number(v) + " months"
	}
	return f.Number(v) + " tháng"
}

// Bool renders a boolean fact in the request language.
func (f *Formatter) Bool(v bool) string {
	if f.lang == "en" {
		if v {
			return "yes"
		}
		return "no"
	}
	if v {
		return "có"
	}
	return "không"
}

// Text passes strings through unchanged.
func (f *Formatter) Text(v string) string { return v }

// Value formats by dynamic type with a unit hint ("VND", "%", "months", "").
func (f *Formatter) Value(v any, unit string) string {
	switch val := v.(type) {
	case bool:
		return f.Bool(val)
	case string:
		return val
	case float64:
		switch unit {
		case "VND":
			return f.Money(val)
		case "%":
			return f.Percent(val)
		case "months":
			return f.Months(val)
		default:
			return f.Number(val)
		}
	case int:
		return f.Value(float64(val), unit)
	case int64:
		return f.Value(float64(val), unit)
	default:
		return fmt.Sprintf("%v", v)
	}
}

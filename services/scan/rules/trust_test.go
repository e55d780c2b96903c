// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package rules

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianScan/services/scan/ast"
)

const (
	testQuery = "(function_definition name: (identifier) @name) @fn"
	testCode  = "function visit(query, filename, code) {}"
)

func strPtr(s string) *string { return &s }

// =============================================================================
// Checksum Tests
// =============================================================================

func TestComputeChecksum_CanonicalContent(t *testing.T) {
	r := NewTreeSitterRule("python-best-practices/r1", ast.LanguagePython, testQuery, testCode)

	sum := sha256.Sum256([]byte(*r.TreeSitterQueryBase64 + r.CodeBase64))
	assert.Equal(t, hex.EncodeToString(sum[:]), ComputeChecksum(&r))
	assert.Equal(t, r.Checksum, ComputeChecksum(&r))
	assert.Equal(t, strings.ToLower(r.Checksum), r.Checksum)
}

func TestVerify(t *testing.T) {
	r := NewTreeSitterRule("r1", ast.LanguagePython, testQuery, testCode)

	v, err := Verify(&r)
	require.NoError(t, err)
	assert.Same(t, &r, v.Rule())

	upper := r
	upper.Checksum = strings.ToUpper(r.Checksum)
	_, err = Verify(&upper)
	assert.NoError(t, err)
}

func TestVerify_TamperedRuleIsRejected(t *testing.T) {
	r := NewTreeSitterRule("r1", ast.LanguagePython, testQuery, testCode)
	r.CodeBase64 = base64.StdEncoding.EncodeToString([]byte("function visit() { addError(x) }"))

	_, err := Verify(&r)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrChecksumMismatch)
	assert.Equal(t, CodeChecksumMismatch, ErrorCode(err))

	_, err = Decode(Verified{})
	assert.ErrorIs(t, err, ErrChecksumMismatch)
}

// =============================================================================
// Decode Tests
// =============================================================================

func TestDecode(t *testing.T) {
	r := NewTreeSitterRule("r1", ast.LanguagePython, testQuery, testCode)
	r.Variables = map[string]string{"max": "3"}

	d, err := VerifyAndDecode(&r)
	require.NoError(t, err)
	assert.Equal(t, "r1", d.Name)
	assert.Equal(t, ast.LanguagePython, d.Language)
	assert.Equal(t, testQuery, d.Query)
	assert.Equal(t, testCode, d.Code)
	assert.Equal(t, SeverityError, d.Severity)
	assert.Equal(t, "3", d.Variables["max"])
}

func TestDecode_Failures(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(r *Rule)
		wantErr error
		code    string
	}{
		{
			name:    "query not base64",
			mutate:  func(r *Rule) { r.TreeSitterQueryBase64 = strPtr("!!not base64!!") },
			wantErr: ErrDecodingBase64,
			code:    CodeErrorDecodingBase64,
		},
		{
			name:    "code not base64",
			mutate:  func(r *Rule) { r.CodeBase64 = "%%%" },
			wantErr: ErrDecodingBase64,
			code:    CodeErrorDecodingBase64,
		},
		{
			name: "code not text",
			mutate: func(r *Rule) {
				r.CodeBase64 = base64.StdEncoding.EncodeToString([]byte{0xff, 0xfe, 0x00})
			},
			wantErr: ErrCodeNotText,
			code:    CodeCodeNotBase64,
		},
		{
			name:    "regex rule",
			mutate:  func(r *Rule) { r.RuleType = RuleTypeRegex },
			wantErr: ErrUnsupportedRuleType,
			code:    CodeUnsupportedRuleType,
		},
		{
			name:    "missing query",
			mutate:  func(r *Rule) { r.TreeSitterQueryBase64 = nil },
			wantErr: ErrMissingQuery,
			code:    CodeErrorDecodingBase64,
		},
		{
			name:    "unsupported language",
			mutate:  func(r *Rule) { r.Language = ast.Language("kotlin") },
			wantErr: ast.ErrUnsupportedLanguage,
			code:    CodeUnsupportedLanguage,
		},
		{
			name:    "unknown category",
			mutate:  func(r *Rule) { r.Category = Category("STYLE_GUIDE") },
			wantErr: ErrInvalidCategory,
			code:    CodeInvalidCategory,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewTreeSitterRule("r1", ast.LanguagePython, testQuery, testCode)
			tt.mutate(&r)
			Seal(&r)

			_, err := VerifyAndDecode(&r)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.code, ErrorCode(err))
		})
	}
}

// =============================================================================
// Prepare Tests
// =============================================================================

func TestPrepare_ExcludesOnlyBadRules(t *testing.T) {
	good := NewTreeSitterRule("good", ast.LanguagePython, testQuery, testCode)
	tampered := NewTreeSitterRule("tampered", ast.LanguagePython, testQuery, testCode)
	tampered.Checksum = strings.Repeat("0", 64)
	other := NewTreeSitterRule("other", ast.LanguageGo, "(identifier) @id", testCode)

	decoded, excluded := Prepare([]Rule{good, tampered, other}, nil)

	require.Len(t, decoded, 2)
	assert.Equal(t, "good", decoded[0].Name)
	assert.Equal(t, "other", decoded[1].Name)

	require.Len(t, excluded, 1)
	assert.Equal(t, "tampered", excluded[0].RuleName)
	assert.Equal(t, CodeChecksumMismatch, excluded[0].Code)
}

// =============================================================================
// Loader Tests
// =============================================================================

func TestParseRuleSets_BothShapes(t *testing.T) {
	r := NewTreeSitterRule("python-security/no-eval", ast.LanguagePython, testQuery, testCode)
	r.Category = CategorySecurity
	sets := []RuleSet{{Name: "python-security", Rules: []Rule{r}}}

	arr, err := json.Marshal(sets)
	require.NoError(t, err)
	obj, err := json.Marshal(map[string]any{"rulesets": sets})
	require.NoError(t, err)

	for name, data := range map[string][]byte{"array": arr, "object": obj} {
		t.Run(name, func(t *testing.T) {
			got, err := ParseRuleSets(data)
			require.NoError(t, err)
			require.Len(t, got, 1)
			rules := RulesFromRuleSets(got)
			require.Len(t, rules, 1)
			assert.Equal(t, ast.LanguagePython, rules[0].Language)
			assert.Equal(t, CategorySecurity, rules[0].Category)

			_, err = Verify(&rules[0])
			assert.NoError(t, err)
		})
	}
}

func TestParseRuleSets_Invalid(t *testing.T) {
	for _, data := range []string{"", "42", "{}", "[{\"name\": 1}]"} {
		_, err := ParseRuleSets([]byte(data))
		assert.ErrorIs(t, err, ErrInvalidRulesFile, data)
	}
}

// wireRule returns r as a JSON object with some fields replaced.
func wireRule(t *testing.T, r Rule, overrides map[string]any) map[string]any {
	t.Helper()
	raw, err := json.Marshal(r)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	for k, v := range overrides {
		m[k] = v
	}
	return m
}

func TestParseRuleSets_UnknownTagsExcludeOnlyTheirRule(t *testing.T) {
	python := NewTreeSitterRule("python/r", ast.LanguagePython, testQuery, testCode)
	kotlin := NewTreeSitterRule("kotlin/r", ast.LanguagePython, testQuery, testCode)
	styled := NewTreeSitterRule("python/styled", ast.LanguagePython, testQuery, testCode)

	data, err := json.Marshal([]map[string]any{{
		"name": "mixed",
		"rules": []map[string]any{
			wireRule(t, python, nil),
			wireRule(t, kotlin, map[string]any{"language": "KOTLIN"}),
			wireRule(t, styled, map[string]any{"category": "STYLE_GUIDE"}),
		},
	}})
	require.NoError(t, err)

	sets, err := ParseRuleSets(data)
	require.NoError(t, err)
	loaded := RulesFromRuleSets(sets)
	require.Len(t, loaded, 3)
	assert.Equal(t, ast.Language("kotlin"), loaded[1].Language)
	assert.Equal(t, Category("STYLE_GUIDE"), loaded[2].Category)

	decoded, excluded := Prepare(loaded, nil)
	require.Len(t, decoded, 1)
	assert.Equal(t, "python/r", decoded[0].Name)

	require.Len(t, excluded, 2)
	assert.Equal(t, "kotlin/r", excluded[0].RuleName)
	assert.Equal(t, CodeUnsupportedLanguage, excluded[0].Code)
	assert.Equal(t, "python/styled", excluded[1].RuleName)
	assert.Equal(t, CodeInvalidCategory, excluded[1].Code)
}

func TestParseRuleSets_CatalogSpelling(t *testing.T) {
	data := `[{"name":"js","rules":[{"name":"js/r","category":"code-style",
		"severity":"warning","language":"JAVASCRIPT","type":"TREE_SITTER_QUERY",
		"code":"","checksum":""}]}]`
	sets, err := ParseRuleSets([]byte(data))
	require.NoError(t, err)
	r := sets[0].Rules[0]
	assert.Equal(t, CategoryCodeStyle, r.Category)
	assert.Equal(t, SeverityWarning, r.Severity)
	assert.Equal(t, ast.LanguageJavaScript, r.Language)
	assert.Equal(t, "https://docs.datadoghq.com/continuous_integration/static_analysis/rules/js/r", r.URL())
}

func TestLoadRuleSetsFromFile(t *testing.T) {
	r := NewTreeSitterRule("r1", ast.LanguageGo, "(identifier) @id", testCode)
	data, err := json.Marshal([]RuleSet{{Name: "go", Rules: []Rule{r}}})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "rules.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	sets, err := LoadRuleSetsFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "go", sets[0].Name)

	_, err = LoadRuleSetsFromFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestLanguagesForRules(t *testing.T) {
	rules := []*DecodedRule{
		{Name: "a", Language: ast.LanguagePython},
		{Name: "b", Language: ast.LanguageGo},
		{Name: "c", Language: ast.LanguagePython},
	}
	assert.Equal(t, []ast.Language{ast.LanguageGo, ast.LanguagePython}, LanguagesForRules(rules))
	assert.Empty(t, LanguagesForRules(nil))
}

// =============================================================================
// Edit Tests
// =============================================================================

func TestEdit_Validate(t *testing.T) {
	end := &Position{Line: 2, Col: 4}
	tests := []struct {
		name  string
		edit  Edit
		valid bool
	}{
		{"add", Edit{Start: Position{1, 1}, EditType: EditTypeAdd, Content: strPtr("x")}, true},
		{"add empty", Edit{Start: Position{1, 1}, EditType: EditTypeAdd, Content: strPtr("")}, false},
		{"add nil", Edit{Start: Position{1, 1}, EditType: EditTypeAdd}, false},
		{"update", Edit{Start: Position{1, 1}, End: end, EditType: EditTypeUpdate, Content: strPtr("y")}, true},
		{"update no end", Edit{Start: Position{1, 1}, EditType: EditTypeUpdate, Content: strPtr("y")}, false},
		{"remove", Edit{Start: Position{1, 1}, End: end, EditType: EditTypeRemove}, true},
		{"remove with content", Edit{Start: Position{1, 1}, End: end, EditType: EditTypeRemove, Content: strPtr("z")}, false},
		{"end before start", Edit{Start: Position{3, 1}, End: end, EditType: EditTypeRemove}, false},
		{"zero start", Edit{Start: Position{0, 1}, EditType: EditTypeAdd, Content: strPtr("x")}, false},
		{"unknown type", Edit{Start: Position{1, 1}, EditType: "MOVE"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.edit.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidEdit)
			}
		})
	}
}

func TestRuleResult_AddErrorOnce(t *testing.T) {
	r := NewRuleResult("r", "a.py")
	r.AddError(CodeRuleTimeout)
	r.AddError(CodeRuleTimeout)
	assert.Equal(t, []string{CodeRuleTimeout}, r.Errors)
	assert.True(t, r.HasError(CodeRuleTimeout))

	data, err := json.Marshal(NewRuleResult("r", "a.py"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"violations":[]`)
	assert.Contains(t, string(data), `"execution_time_ms":0`)
}

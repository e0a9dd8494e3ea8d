package config

import "testing"

func TestNormalizeStoreType(t *testing.T) {
	cases := map[string]string{
		"s3":    "s3",
		"S3":    "s3",
		"minio": "minio",
		"MinIO": "minio",
		"local": "local",
		"":      "local",
		"junk":  "local",
	}
	for in, want := range cases {
		if got := normalizeStoreType(in); got != want {
			t.Errorf("normalizeStoreType(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeProvider(t *testing.T) {
	cases := map[string]string{
		"gemini":      "gemini",
		"openai":      "openai",
		"OpenAI":      "openai",
		"placeholder": "placeholder",
		"none":        "placeholder",
		"":            "gemini",
		"other":       "gemini",
	}
	for in, want := range cases {
		if got := normalizeProvider(in); got != want {
			t.Errorf("normalizeProvider(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSplitAndTrim(t *testing.T) {
	got := splitAndTrim(" a, b ,, c ")
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("splitAndTrim returned %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("splitAndTrim[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

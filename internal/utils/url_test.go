package utils

import "testing"

func TestNormalizeURL(t *testing.T) {
	normalized, domain, err := NormalizeURL("https://Example.com/path?utm_source=test&x=1#top")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if domain != "example.com" {
		t.Fatalf("unexpected domain: %s", domain)
	}
	if normalized != "https://example.com/path?x=1" {
		t.Fatalf("unexpected normalized url: %s", normalized)
	}
}

func TestNormalizeURLAddsScheme(t *testing.T) {
	normalized, _, err := NormalizeURL("<twitch.tv/streamer>")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if normalized != "https://twitch.tv/streamer" {
		t.Fatalf("unexpected normalized url: %s", normalized)
	}
}

func TestNormalizeURLPunycode(t *testing.T) {
	_, domain, err := NormalizeURL("https://Café.fr/menu")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if domain != "xn--caf-dma.fr" {
		t.Fatalf("unexpected domain: %s", domain)
	}
}

func TestNormalizeURLEmpty(t *testing.T) {
	if _, _, err := NormalizeURL("  "); err == nil {
		t.Fatalf("expected error for empty url")
	}
}

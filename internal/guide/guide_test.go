package guide

import (
	"bytes"
	"image/png"
	"strings"
	"testing"
)

func TestRenderProducesPNG(t *testing.T) {
	data, err := Render("Guide du serveur", []string{"Bienvenue !", "", "Utilise !squad pour créer une équipe."})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if img.Bounds().Dx() != width {
		t.Fatalf("expected width %d, got %d", width, img.Bounds().Dx())
	}
	want := 2*margin + lineHeight + titleGap + 3*lineHeight
	if img.Bounds().Dy() != want {
		t.Fatalf("expected height %d, got %d", want, img.Bounds().Dy())
	}
}

func TestRenderRejectsEmptyGuide(t *testing.T) {
	if _, err := Render("  ", nil); err != ErrEmptyGuide {
		t.Fatalf("expected ErrEmptyGuide, got %v", err)
	}
}

func TestWrap(t *testing.T) {
	got := wrap("un deux trois quatre", 9)
	want := []string{"un deux", "trois", "quatre"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("unexpected wrap %q", got)
	}
	long := wrap(strings.Repeat("a", 12), 5)
	if len(long) != 3 || long[2] != "aa" {
		t.Fatalf("unexpected split %q", long)
	}
}

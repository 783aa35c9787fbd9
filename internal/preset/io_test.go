package preset

import "testing"

func TestLoadSaveRoundTrip(t *testing.T) {
	src := `bwmixer=name("Mono"), category("B&W"), highlights(1, 1, 1), shadows(1, 1, 1), weight(50)`
	c, err := Load(src)
	if err != nil {
		t.Fatal(err)
	}
	saved := Save(c)
	reloaded, err := Load(saved)
	if err != nil {
		t.Fatalf("failed to reload saved output: %v\nsaved: %s", err, saved)
	}
	if len(reloaded.All()) != 1 {
		t.Fatalf("expected one preset, got %d", len(reloaded.All()))
	}
}

func TestLoadRejectsBareIdentifierWithoutDefaults(t *testing.T) {
	if _, err := Load("bwmixer=Mono"); err == nil {
		t.Fatal("expected an error resolving a bare identifier with no defaults collection")
	}
}

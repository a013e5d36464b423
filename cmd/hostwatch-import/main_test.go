package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gopkg.in/yaml.v3"

	"hostwatch/internal/config"
)

func TestParseDomainList(t *testing.T) {
	input := `
# clients
Shop.Example.com  Acme Corp
blog.example.org
shop.example.com duplicate
https://portal.example.net/
`
	got, err := parseDomainList(strings.NewReader(input), "web", true)
	if err != nil {
		t.Fatal(err)
	}

	want := []config.HostingConfig{
		{ID: "web-blog-example-org", Domain: "blog.example.org", Active: true},
		{ID: "web-portal-example-net", Domain: "portal.example.net", Active: true},
		{ID: "web-shop-example-com", Domain: "shop.example.com", Client: "Acme Corp", Active: true},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}
}

func TestParseDomainListRejectsGarbage(t *testing.T) {
	if _, err := parseDomainList(strings.NewReader("ok.example.com\nnot/a domain\n"), "", true); err == nil {
		t.Error("expected an error for an invalid line")
	}
}

func TestWriteIncludeRoundTripsThroughConfig(t *testing.T) {
	dir := t.TempDir()
	records := []config.HostingConfig{{ID: "a", Domain: "a.example.com", Active: true}}
	if err := writeInclude(records, filepath.Join(dir, "hosting.yaml")); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "hosting.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	var parsed includeFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(records, parsed.Hosting); diff != "" {
		t.Errorf("include mismatch (-want +got):\n%s", diff)
	}
}

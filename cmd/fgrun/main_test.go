package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/gogpu/framegraph"
)

func TestRun_Deferred(t *testing.T) {
	var out bytes.Buffer
	err := run([]string{"-frame", "testdata/deferred.yaml", "-frames", "2", "-naga=false"}, &out)
	if err != nil {
		t.Fatalf("run() = %v\n%s", err, out.String())
	}
	got := out.String()
	for _, want := range []string{
		"frame 1 (deferred",
		"frame 2 (deferred",
		"albedo RenderTarget->ShaderResource",
		"depth DepthWrite->DepthRead",
		"depth DepthRead->DepthWrite",
		"backbuffer Present->RenderTarget",
		"backbuffer RenderTarget->Present",
		"Pipelines[1 programs",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestRun_Quiet(t *testing.T) {
	var out bytes.Buffer
	err := run([]string{"-frame", "testdata/deferred.yaml", "-frames", "5", "-quiet", "-naga=false"}, &out)
	if err != nil {
		t.Fatalf("run() = %v", err)
	}
	got := out.String()
	if strings.Contains(got, "frame 1 (") {
		t.Errorf("quiet output lists frames:\n%s", got)
	}
	if !strings.Contains(got, "5 frames in") {
		t.Errorf("output missing frame count:\n%s", got)
	}
}

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr bool
	}{
		{"ok", []string{"-frame", "f.yaml"}, false},
		{"missing frame", nil, true},
		{"zero frames", []string{"-frame", "f.yaml", "-frames", "0"}, true},
		{"unknown flag", []string{"-frame", "f.yaml", "-bogus"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseFlags(tt.args, &bytes.Buffer{})
			if (err != nil) != tt.wantErr {
				t.Errorf("parseFlags() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseFrame(t *testing.T) {
	fd, err := ParseFrame([]byte(`
name: tiny
resources:
  - {name: bb, kind: backbuffer, width: 4, height: 4}
passes:
  - name: clear
    writes: [{resource: bb, state: rendertarget}]
`))
	if err != nil {
		t.Fatalf("ParseFrame() = %v", err)
	}
	if fd.Name != "tiny" || len(fd.Passes) != 1 {
		t.Fatalf("ParseFrame() = %+v", fd)
	}
	if got := framegraph.State(fd.Passes[0].Writes[0].State); got != framegraph.StateRenderTarget {
		t.Errorf("write state = %v, want RenderTarget", got)
	}
	bb := fd.Persistent()["bb"]
	if bb.Kind() != framegraph.KindBackBuffer || bb.State() != framegraph.StateCommon {
		t.Errorf("persistent bb = %v in %v, want BackBuffer in Common", bb.Kind(), bb.State())
	}
}

func TestParseFrame_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want error
	}{
		{"no passes", `name: x`, errFrame},
		{
			"unknown resource",
			"passes:\n  - name: p\n    reads: [{resource: ghost, state: ShaderResource}]",
			errFrame,
		},
		{
			"unknown release",
			"passes:\n  - name: p\n    release: [ghost]",
			errFrame,
		},
		{
			"duplicate resource",
			"resources: [{name: a, kind: Depth}, {name: a, kind: Depth}]\npasses: [{name: p}]",
			errFrame,
		},
		{
			"unknown format",
			"resources: [{name: a, kind: Depth, format: d16}]\npasses: [{name: p}]",
			errFrame,
		},
		{
			"unknown pipeline",
			"passes: [{name: p, pipeline: blur}]",
			errFrame,
		},
		{
			"unnamed pass",
			"passes: [{pipeline: \"\"}]",
			errFrame,
		},
		{
			"unknown state",
			"resources: [{name: a, kind: Depth, state: Sampled}]\npasses: [{name: p}]",
			framegraph.ErrInvalidAccess,
		},
		{
			"unknown kind",
			"resources: [{name: a, kind: Swapchain}]\npasses: [{name: p}]",
			framegraph.ErrInvalidDescriptor,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseFrame([]byte(tt.yaml)); !errors.Is(err, tt.want) {
				t.Errorf("ParseFrame() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestLoadFrame_PipelineFile(t *testing.T) {
	fd, err := LoadFrame("testdata/deferred.yaml")
	if err != nil {
		t.Fatalf("LoadFrame() = %v", err)
	}
	if len(fd.Pipelines) != 1 || !strings.Contains(fd.Pipelines[0].WGSL, "fs_main") {
		t.Errorf("pipeline source not loaded: %+v", fd.Pipelines)
	}
	if _, err := LoadFrame("testdata/missing.yaml"); err == nil {
		t.Error("LoadFrame(missing) = nil error, want error")
	}
}

func TestDescribe(t *testing.T) {
	h := framegraph.Handle{}
	got := describe([]framegraph.Transition{
		{Handle: h, Before: framegraph.StateRenderTarget, After: framegraph.StateShaderResource, Alias: true},
	}, map[framegraph.Handle]string{h: "hdr"})
	if want := "hdr RenderTarget->ShaderResource (alias)"; got != want {
		t.Errorf("describe() = %q, want %q", got, want)
	}
	if got := describe(nil, nil); got != "-" {
		t.Errorf("describe(nil) = %q, want -", got)
	}
}

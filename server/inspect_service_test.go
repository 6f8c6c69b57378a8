package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/chazu/membrane/compartment"
)

func mustStruct(t *testing.T, m map[string]interface{}) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func wantCode(t *testing.T, err error, code connect.Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", code)
	}
	if got := connect.CodeOf(err); got != code {
		t.Errorf("code = %s, want %s (%v)", got, code, err)
	}
}

// ---------------------------------------------------------------------------
// ListCompartments
// ---------------------------------------------------------------------------

func TestListCompartments(t *testing.T) {
	env := newTestEnv(t)
	svc := NewInspectService(env.Owner, nil, nil)

	resp, err := svc.ListCompartments(bg(), connectReq(&emptypb.Empty{}))
	if err != nil {
		t.Fatalf("ListCompartments: %v", err)
	}
	list := resp.Msg.GetFields()["compartments"].GetListValue().GetValues()
	if len(list) != 2 {
		t.Fatalf("compartment count = %d, want 2", len(list))
	}
	chrome := list[0].GetStructValue().GetFields()
	if chrome["name"].GetStringValue() != "chrome" || !chrome["system"].GetBoolValue() {
		t.Errorf("first entry = %v", chrome)
	}
	if chrome["key"].GetStringValue() != chromeKey.String() {
		t.Errorf("key = %q, want %q", chrome["key"].GetStringValue(), chromeKey)
	}
	page := list[1].GetStructValue().GetFields()
	if page["wrappers"].GetNumberValue() != 1 {
		t.Errorf("page wrappers = %v, want 1", page["wrappers"].GetNumberValue())
	}
}

// ---------------------------------------------------------------------------
// NukeCompartment
// ---------------------------------------------------------------------------

func TestNukeCompartmentByName(t *testing.T) {
	env := newTestEnv(t)
	svc := NewInspectService(env.Owner, nil, nil)

	resp, err := svc.NukeCompartment(bg(), connectReq(mustStruct(t, map[string]interface{}{"name": "chrome"})))
	if err != nil {
		t.Fatalf("NukeCompartment: %v", err)
	}
	if n := resp.Msg.GetFields()["severed"].GetNumberValue(); n != 1 {
		t.Errorf("severed = %v, want 1", n)
	}

	nuked, _ := env.Owner.Do(func(*compartment.Runtime) interface{} {
		return env.Chrome.NukedIncoming() && env.Page.Stats().Wrappers == 0
	})
	if !nuked.(bool) {
		t.Error("chrome should be nuked and page's cache emptied")
	}
}

func TestNukeCompartmentByKey(t *testing.T) {
	env := newTestEnv(t)
	svc := NewInspectService(env.Owner, nil, nil)

	resp, err := svc.NukeCompartment(bg(), connectReq(mustStruct(t, map[string]interface{}{"key": chromeKey.String()})))
	if err != nil {
		t.Fatalf("NukeCompartment: %v", err)
	}
	if name := resp.Msg.GetFields()["name"].GetStringValue(); name != "chrome" {
		t.Errorf("name = %q, want chrome", name)
	}
}

func TestNukeCompartmentErrors(t *testing.T) {
	env := newTestEnv(t)
	svc := NewInspectService(env.Owner, nil, nil)

	tests := []struct {
		name string
		req  map[string]interface{}
		code connect.Code
	}{
		{"empty", map[string]interface{}{}, connect.CodeInvalidArgument},
		{"bad key", map[string]interface{}{"key": "nope"}, connect.CodeInvalidArgument},
		{"unknown name", map[string]interface{}{"name": "ghost"}, connect.CodeNotFound},
		{"unknown key", map[string]interface{}{"key": "00000000-0000-0000-0000-000000000001"}, connect.CodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.NukeCompartment(bg(), connectReq(mustStruct(t, tt.req)))
			wantCode(t, err, tt.code)
		})
	}
}

// ---------------------------------------------------------------------------
// Sweep
// ---------------------------------------------------------------------------

func TestSweepRemovesDeadKeys(t *testing.T) {
	env := newTestEnv(t)
	sweeper := compartment.NewSweeper(env.RT, compartment.DefaultSweepInterval, env.Owner.Exec)
	svc := NewInspectService(env.Owner, sweeper, nil)

	env.Owner.Do(func(rt *compartment.Runtime) interface{} {
		rt.Heap().Release(env.Target.Ref())
		return nil
	})

	resp, err := svc.Sweep(bg(), connectReq(&emptypb.Empty{}))
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n := resp.Msg.GetFields()["wrappers"].GetNumberValue(); n != 1 {
		t.Errorf("wrappers swept = %v, want 1", n)
	}
	if sweeper.SweepCount() != 1 {
		t.Errorf("SweepCount = %d, want 1", sweeper.SweepCount())
	}
}

func TestSweepWithoutSweeper(t *testing.T) {
	env := newTestEnv(t)
	svc := NewInspectService(env.Owner, nil, nil)
	resp, err := svc.Sweep(bg(), connectReq(&emptypb.Empty{}))
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n := resp.Msg.GetFields()["total"].GetNumberValue(); n != 0 {
		t.Errorf("total swept = %v, want 0", n)
	}
}

// ---------------------------------------------------------------------------
// Over the wire
// ---------------------------------------------------------------------------

func TestInspectionOverConnect(t *testing.T) {
	env := newTestEnv(t)
	path, handler := NewInspectService(env.Owner, nil, nil).Handler()
	mux := http.NewServeMux()
	mux.Handle(path, handler)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := connect.NewClient[emptypb.Empty, structpb.Struct](
		srv.Client(), srv.URL+ListCompartmentsProcedure,
	)
	resp, err := client.CallUnary(bg(), connect.NewRequest(&emptypb.Empty{}))
	if err != nil {
		t.Fatalf("CallUnary: %v", err)
	}
	if n := len(resp.Msg.GetFields()["compartments"].GetListValue().GetValues()); n != 2 {
		t.Errorf("compartment count = %d, want 2", n)
	}

	nuke := connect.NewClient[structpb.Struct, structpb.Struct](
		srv.Client(), srv.URL+NukeCompartmentProcedure,
	)
	_, err = nuke.CallUnary(bg(), connect.NewRequest(mustStruct(t, map[string]interface{}{"name": "ghost"})))
	wantCode(t, err, connect.CodeNotFound)
}

func TestServerHandlerServesInspection(t *testing.T) {
	rt := compartment.NewRuntime(compartment.Options{})
	if _, err := rt.NewCompartment(compartment.CompartmentOptions{Name: "solo"}); err != nil {
		t.Fatal(err)
	}
	s := New(rt, WithSweepInterval(0))
	defer s.Stop()

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()
	client := connect.NewClient[emptypb.Empty, structpb.Struct](srv.Client(), srv.URL+SweepProcedure)
	if _, err := client.CallUnary(bg(), connect.NewRequest(&emptypb.Empty{})); err != nil {
		t.Fatalf("Sweep over HTTP: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Audit
// ---------------------------------------------------------------------------

func TestNukeAndSweepAreAudited(t *testing.T) {
	env := newTestEnv(t)
	audit := openTestAudit(t)
	svc := NewInspectService(env.Owner, nil, audit)

	if _, err := svc.NukeCompartment(bg(), connectReq(mustStruct(t, map[string]interface{}{"name": "chrome"}))); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Sweep(bg(), connectReq(&emptypb.Empty{})); err != nil {
		t.Fatal(err)
	}

	resp, err := svc.ListAuditEvents(bg(), connectReq(&emptypb.Empty{}))
	if err != nil {
		t.Fatalf("ListAuditEvents: %v", err)
	}
	events := resp.Msg.GetFields()["events"].GetListValue().GetValues()
	if len(events) != 2 {
		t.Fatalf("event count = %d, want 2", len(events))
	}
	nuke := events[1].GetStructValue().GetFields()
	if nuke["op"].GetStringValue() != "nuke" || nuke["compartment"].GetStringValue() != "chrome" {
		t.Errorf("nuke event = %v", nuke)
	}
	if nuke["count"].GetNumberValue() != 1 {
		t.Errorf("nuke count = %v, want 1", nuke["count"].GetNumberValue())
	}
}

func TestListAuditEventsDisabled(t *testing.T) {
	env := newTestEnv(t)
	svc := NewInspectService(env.Owner, nil, nil)
	_, err := svc.ListAuditEvents(bg(), connectReq(&emptypb.Empty{}))
	wantCode(t, err, connect.CodeFailedPrecondition)
}

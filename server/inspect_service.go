package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"github.com/google/uuid"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/chazu/membrane/compartment"
)

// InspectionServiceName is the fully-qualified name of the inspection service.
const InspectionServiceName = "membrane.v1.InspectionService"

// Procedure paths served by the inspection service.
const (
	ListCompartmentsProcedure = "/" + InspectionServiceName + "/ListCompartments"
	NukeCompartmentProcedure  = "/" + InspectionServiceName + "/NukeCompartment"
	SweepProcedure            = "/" + InspectionServiceName + "/Sweep"
	ListAuditEventsProcedure  = "/" + InspectionServiceName + "/ListAuditEvents"
)

// auditPageSize bounds ListAuditEvents responses.
const auditPageSize = 100

// InspectService reports on and manages the compartments of a runtime.
// Every operation that touches a compartment runs on the owner.
type InspectService struct {
	owner   *Owner
	sweeper *compartment.Sweeper
	audit   *AuditLog
}

// NewInspectService creates an InspectService. sweeper may be nil, in which
// case Sweep runs directly on the owner. audit may be nil to skip recording.
func NewInspectService(owner *Owner, sweeper *compartment.Sweeper, audit *AuditLog) *InspectService {
	return &InspectService{owner: owner, sweeper: sweeper, audit: audit}
}

func (s *InspectService) record(op, compartmentName string, count int) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(op, compartmentName, count); err != nil {
		log.Warningf("audit: %s", err)
	}
}

// ListCompartments returns one entry per live compartment, ordered by id.
func (s *InspectService) ListCompartments(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[structpb.Struct], error) {
	result, err := s.owner.Do(func(rt *compartment.Runtime) interface{} {
		var list []interface{}
		for _, c := range rt.Compartments() {
			list = append(list, statsMap(c.Stats()))
		}
		return map[string]interface{}{
			"compartments": list,
			"live":         rt.Heap().Live(),
		}
	})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	msg, err := structpb.NewStruct(result.(map[string]interface{}))
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(msg), nil
}

// NukeCompartment severs every wrapper held by, or pointing into, the
// compartment named by the request's "key" or "name" field.
func (s *InspectService) NukeCompartment(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	fields := req.Msg.GetFields()
	keyStr := fields["key"].GetStringValue()
	name := fields["name"].GetStringValue()
	if keyStr == "" && name == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("key or name is required"))
	}
	var key uuid.UUID
	if keyStr != "" {
		k, err := uuid.Parse(keyStr)
		if err != nil {
			return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("invalid key %q: %w", keyStr, err))
		}
		key = k
	}

	result, err := s.owner.Do(func(rt *compartment.Runtime) interface{} {
		var c *compartment.Compartment
		if keyStr != "" {
			c = rt.CompartmentByKey(key)
		} else {
			c = rt.CompartmentByName(name)
		}
		if c == nil {
			return nil
		}
		n := rt.NukeCompartment(c)
		log.Infof("nuked compartment %s via inspection: %d wrappers", c, n)
		return map[string]interface{}{
			"name":    c.Name(),
			"key":     c.Key().String(),
			"severed": n,
		}
	})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	if result == nil {
		target := keyStr
		if target == "" {
			target = name
		}
		return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("compartment %q not found", target))
	}
	out := result.(map[string]interface{})
	s.record("nuke", out["name"].(string), out["severed"].(int))
	msg, err := structpb.NewStruct(out)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(msg), nil
}

// Sweep runs a cache sweep using the heap's liveness and returns its counts.
func (s *InspectService) Sweep(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[structpb.Struct], error) {
	var stats *compartment.SweepStats
	if s.sweeper != nil {
		stats = s.sweeper.SweepNow()
	} else {
		result, err := s.owner.Do(func(rt *compartment.Runtime) interface{} {
			return rt.Sweep(nil)
		})
		if err != nil {
			return nil, connect.NewError(connect.CodeInternal, err)
		}
		stats = result.(*compartment.SweepStats)
	}
	s.record("sweep", "", stats.TotalSwept)
	msg, err := structpb.NewStruct(map[string]interface{}{
		"wrappers":    stats.Wrappers,
		"strings":     stats.Strings,
		"bigints":     stats.BigInts,
		"atoms":       stats.Atoms,
		"total":       stats.TotalSwept,
		"duration_ms": float64(stats.SweepDuration.Microseconds()) / 1000,
	})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(msg), nil
}

// ListAuditEvents returns the most recent audit events, newest first.
func (s *InspectService) ListAuditEvents(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[structpb.Struct], error) {
	if s.audit == nil {
		return nil, connect.NewError(connect.CodeFailedPrecondition, fmt.Errorf("audit log is disabled"))
	}
	events, err := s.audit.Recent(auditPageSize)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	list := make([]interface{}, 0, len(events))
	for _, e := range events {
		list = append(list, map[string]interface{}{
			"id":          e.ID,
			"at":          e.At.UTC().Format(time.RFC3339Nano),
			"op":          e.Op,
			"compartment": e.Compartment,
			"count":       e.Count,
		})
	}
	msg, err := structpb.NewStruct(map[string]interface{}{"events": list})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(msg), nil
}

// Handler returns the service's path prefix and an http.Handler serving
// all of its procedures over Connect, gRPC, and gRPC-Web.
func (s *InspectService) Handler(opts ...connect.HandlerOption) (string, *http.ServeMux) {
	mux := http.NewServeMux()
	mux.Handle(ListCompartmentsProcedure, connect.NewUnaryHandler(ListCompartmentsProcedure, s.ListCompartments, opts...))
	mux.Handle(NukeCompartmentProcedure, connect.NewUnaryHandler(NukeCompartmentProcedure, s.NukeCompartment, opts...))
	mux.Handle(SweepProcedure, connect.NewUnaryHandler(SweepProcedure, s.Sweep, opts...))
	mux.Handle(ListAuditEventsProcedure, connect.NewUnaryHandler(ListAuditEventsProcedure, s.ListAuditEvents, opts...))
	return "/" + InspectionServiceName + "/", mux
}

// statsMap converts compartment stats into structpb-compatible values.
func statsMap(st compartment.Stats) map[string]interface{} {
	return map[string]interface{}{
		"id":             int(st.ID),
		"key":            st.Key.String(),
		"name":           st.Name,
		"system":         st.System,
		"wrappers":       st.Wrappers,
		"explicit":       st.Explicit,
		"strings":        st.Strings,
		"bigints":        st.BigInts,
		"atoms":          st.Atoms,
		"nuked_incoming": st.NukedIncoming,
		"nuked_outgoing": st.NukedOutgoing,
	}
}

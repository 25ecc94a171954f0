// Package statusrpc exposes a hosting Manager's state over gRPC so a second
// terminal (or another machine) can inspect a running session.
package statusrpc

import (
	"context"
	"fmt"
	"log"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/scoutnet/scoutnet/internal/session"
)

const (
	// ServiceName is the fully qualified gRPC service name
	ServiceName = "scoutnet.v1.Status"
	getMethod   = "/" + ServiceName + "/Get"
)

// Source supplies the status to report
type Source interface {
	Status() session.Status
}

// statusService is the server-side contract of the Status service
type statusService interface {
	Get(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*statusService)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Get",
			Handler:    getHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "scoutnet/v1/status.proto",
}

func getHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(statusService).Get(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: getMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(statusService).Get(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// service implements statusService on top of a Source
type service struct {
	source Source
}

// Get reports the hosted session. Only a hosting manager has anything to say.
func (s *service) Get(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	st := s.source.Status()
	if st.State != session.StateHosting {
		return nil, status.Errorf(codes.FailedPrecondition, "%v (state %s)", session.ErrNotHosting, st.State)
	}

	peers := make([]any, 0, len(st.Peers))
	for _, p := range st.Peers {
		peers = append(peers, map[string]any{
			"id":           p.ID,
			"addr":         p.Addr,
			"connected_at": p.ConnectedAt.UTC().Format(time.RFC3339),
		})
	}

	out, err := structpb.NewStruct(map[string]any{
		"state":         st.State.String(),
		"session_name":  st.Identity.Name,
		"creator_label": st.Identity.CreatorLabel,
		"session_addr":  st.SessionAddr,
		"peers":         peers,
	})
	if err != nil {
		log.Printf("[ERROR] statusrpc: failed to build status: %v", err)
		return nil, status.Errorf(codes.Internal, "failed to build status: %v", err)
	}
	return out, nil
}

// Server serves the Status service
type Server struct {
	grpcServer *grpc.Server
	listener   net.Listener
}

// Serve starts the Status service on addr in the background
func Serve(addr string, source Source) (*Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	grpcServer := grpc.NewServer()
	grpcServer.RegisterService(&serviceDesc, &service{source: source})

	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			log.Printf("[WARN] statusrpc: serve ended: %v", err)
		}
	}()

	log.Printf("[INFO] statusrpc: serving %s on %s", ServiceName, lis.Addr())
	return &Server{grpcServer: grpcServer, listener: lis}, nil
}

// Addr returns the bound address
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Stop finishes in-flight calls and closes the listener
func (s *Server) Stop() {
	s.grpcServer.GracefulStop()
}

// Report is the client-side view of a host's status
type Report struct {
	State        string
	SessionName  string
	CreatorLabel string
	SessionAddr  string
	Peers        []PeerReport
}

// PeerReport describes one client connected to the host
type PeerReport struct {
	ID          string
	Addr        string
	ConnectedAt time.Time
}

// Fetch queries the Status service at addr
func Fetch(ctx context.Context, addr string) (*Report, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create status client for %s: %w", addr, err)
	}
	defer conn.Close()

	out := new(structpb.Struct)
	if err := conn.Invoke(ctx, getMethod, &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	return reportFromStruct(out), nil
}

func reportFromStruct(s *structpb.Struct) *Report {
	fields := s.GetFields()
	str := func(m map[string]*structpb.Value, key string) string {
		return m[key].GetStringValue()
	}

	report := &Report{
		State:        str(fields, "state"),
		SessionName:  str(fields, "session_name"),
		CreatorLabel: str(fields, "creator_label"),
		SessionAddr:  str(fields, "session_addr"),
	}
	for _, v := range fields["peers"].GetListValue().GetValues() {
		pf := v.GetStructValue().GetFields()
		connectedAt, _ := time.Parse(time.RFC3339, str(pf, "connected_at"))
		report.Peers = append(report.Peers, PeerReport{
			ID:          str(pf, "id"),
			Addr:        str(pf, "addr"),
			ConnectedAt: connectedAt,
		})
	}
	return report
}

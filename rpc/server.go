package rpc

import (
	"fmt"
	"net"
	"net/rpc"
	"sync"

	"github.com/lrwang/nvmalloc/config"
	"github.com/lrwang/nvmalloc/mpool"
	"github.com/lrwang/nvmalloc/nvmalloc"
)

// Server fronts one nvmalloc.Allocator instance (via its mpool) over
// net/rpc, so multiple client processes can share one NVM region.
type Server struct {
	pool      *mpool.MemoryPool
	allocator *nvmalloc.Allocator
	mu        sync.Mutex
}

// AllocRequest represents a memory allocation request.
type AllocRequest struct {
	Size uint64
}

// AllocResponse represents a memory allocation response.
type AllocResponse struct {
	Start uint64
	Error string
}

// FreeRequest represents a memory free request.
type FreeRequest struct {
	Start uint64
}

// FreeResponse represents a memory free response.
type FreeResponse struct {
	Error string
}

// StatsRequest requests a Space Manager / Slab Index snapshot.
type StatsRequest struct{}

// StatsResponse is the Space Manager / Slab Index snapshot.
type StatsResponse struct {
	FreeBytes    uint64
	IndexedSlabs uint32
}

// NewServer creates an allocator over [base, base+sizeBytes) and wraps
// it in a pre-warmed memory pool.
func NewServer(base uint64, sizeBytes uint64) (*Server, error) {
	allocator, err := nvmalloc.NewAllocator(base, sizeBytes, config.DefaultOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to create allocator: %v", err)
	}

	pool, err := mpool.NewMemoryPool(allocator)
	if err != nil {
		return nil, fmt.Errorf("failed to create memory pool: %v", err)
	}

	server := &Server{
		pool:      pool,
		allocator: allocator,
	}

	rpc.Register(server)
	return server, nil
}

// Start listens on address and serves RPC connections. Accept errors
// are printed and skipped, so Start returns only if listening fails.
func (s *Server) Start(address string) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to start server: %v", err)
	}
	defer listener.Close()

	fmt.Printf("Server listening on %s\n", address)

	for {
		conn, err := listener.Accept()
		if err != nil {
			fmt.Printf("Failed to accept connection: %v\n", err)
			continue
		}
		go rpc.ServeConn(conn)
	}
}

func (s *Server) Allocate(req *AllocRequest, resp *AllocResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	addr, err := s.pool.Allocate(req.Size)
	if err != nil {
		resp.Error = err.Error()
		return nil
	}

	resp.Start = uint64(addr)
	return nil
}

func (s *Server) Free(req *FreeRequest, resp *FreeResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pool.Free(uintptr(req.Start))
	return nil
}

func (s *Server) Stats(req *StatsRequest, resp *StatsResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := s.allocator.Stats()
	resp.FreeBytes = stats.FreeBytes
	resp.IndexedSlabs = stats.IndexedSlabs
	return nil
}

func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.pool.Close()
}

package capability

import "autoclose/internal/decl"

var (
	closeMethod    = decl.Method{Name: "Close", Results: []string{"error"}}
	shutdownMethod = decl.Method{Name: "Shutdown", Params: []string{"context.Context"}, Results: []string{"error"}}
)

// Builtin returns facts for well-known standard library and ecosystem
// types, so descriptors only need to describe their own package.
// The slice is freshly allocated on every call.
func Builtin() []decl.TypeFact {
	return []decl.TypeFact{
		{Name: "io.Closer", Methods: []decl.Method{closeMethod}},
		{Name: "io.ReadCloser", Implements: []string{"io.Closer"}},
		{Name: "io.WriteCloser", Implements: []string{"io.Closer"}},
		{Name: "io.ReadWriteCloser", Implements: []string{"io.Closer"}},
		{Name: "*io.PipeReader", Implements: []string{"io.Closer"}},
		{Name: "*io.PipeWriter", Implements: []string{"io.Closer"}},
		{Name: "net.Conn", Implements: []string{"io.Closer"}},
		{Name: "net.Listener", Implements: []string{"io.Closer"}},
		{Name: "net.PacketConn", Implements: []string{"io.Closer"}},
		{Name: "*net.TCPConn", Implements: []string{"net.Conn"}},
		{Name: "*net.UDPConn", Implements: []string{"net.Conn", "net.PacketConn"}},
		{Name: "*net.UnixConn", Implements: []string{"net.Conn"}},
		{Name: "*net.TCPListener", Implements: []string{"net.Listener"}},
		{Name: "*os.File", Implements: []string{"io.ReadWriteCloser"}},
		{Name: "*sql.DB", Methods: []decl.Method{closeMethod}},
		{Name: "*sql.Conn", Methods: []decl.Method{closeMethod}},
		{Name: "*sql.Rows", Methods: []decl.Method{closeMethod}},
		{Name: "*sql.Stmt", Methods: []decl.Method{closeMethod}},
		{Name: "*http.Server", Methods: []decl.Method{closeMethod, shutdownMethod}},
		{Name: "*grpc.ClientConn", Methods: []decl.Method{closeMethod}},
		{Name: "*fsnotify.Watcher", Methods: []decl.Method{closeMethod}},
		{Name: "lifecycle.Shutdowner", Methods: []decl.Method{shutdownMethod}},
		{Name: "lifecycle.Releaser", Implements: []string{"io.Closer", "lifecycle.Shutdowner"}},
	}
}

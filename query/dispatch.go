package query

import (
	"github.com/valyala/fasthttp"

	"github.com/como-project/como/cmn"
)

// ListenAndServe runs the QUERY process's fasthttp listener on addr
// until the process is killed, dispatching every connection through
// s.Handler. One worker per connection, no keep-alive state beyond
// what fasthttp itself pools — spec.md §6 describes QUERY as
// effectively stateless between requests.
func ListenAndServe(addr string, s *Server) error {
	srv := &fasthttp.Server{
		Handler: s.Handler,
		Name:    "comoquery",
	}
	cmn.Infof("query: listening on %s", addr)
	if err := srv.ListenAndServe(addr); err != nil {
		return cmn.Wrap(cmn.KindIO, err, "query: listener exited")
	}
	return nil
}

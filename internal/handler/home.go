package handler

import (
	"fmt"
	"net/http"
)

// Home answers health checks with the port the router listens on.
func Home(port string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintf(w, "Load Balancer at port %s", port)
	}
}

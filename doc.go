/*
Package anyheart edits live web pages from natural-language instructions.

A session belongs to one page. Each instruction is a round: the controller
sends the page markup and the instruction to an interpreter, merges the
returned edits into the markup, and pushes the result to the client that
drives the page. The client applies the markup, observes the rendered page
and feeds the observation into the next round. Modified pages can be
published as share links that reproduce the edit on the original page.

# Usage

New wires a backend from configuration:

	cfg, err := config.Load("anyheart.yaml")
	if err != nil {
		log.Fatal(err)
	}
	backend, err := anyheart.New(cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer backend.Close()

	http.ListenAndServe(cfg.Server.Addr, backend.Handler())

The packages under pkg can also be composed directly: pkg/session holds
the controller, pkg/orchestrator the client side, pkg/share the share
store and pkg/adapters the storage, transport and upstream adapters.
*/
package anyheart

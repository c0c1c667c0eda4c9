// Package markup prepares page markup for the upstream services and restores it afterwards.
//
// Comments are stripped and heavy elements (svg, script, style, meta, link)
// are swapped for short placeholders so the interpreter sees a compact page.
// The replacement table travels with the session and is applied to every
// merged result.
package markup

// Package core contains the wallet connection domain: grants, budget state,
// the error taxonomy, and the Service that coordinates the connect,
// reconnect, disconnect, and budget use cases. Concrete signers, negotiators,
// and automation providers live in sibling packages and depend on core for
// types only.
package core

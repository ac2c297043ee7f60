/*
Package security provides fleetd's certificate plumbing: a Certificate
Authority (CertAuthority) and file-based certificate lifecycle helpers.
No TLS is applied to fleetd's listener; the CA is used to issue
certificates through the /enroll endpoint.

On startup each node loads a ca.crt/ca.key pair from its data directory
with LoadFromDir, and generates and saves a new pair there when none is
present. Enrollment hands a joining node its leaf certificate and the
issuing node's CA certificate, but not the CA key; fleetctl enroll saves
them under the node's certificate directory, not the data directory.

Node certificates are short-lived (90 days) and carry both ServerAuth and
ClientAuth extended key usage since Raft peers dial each other in both
directions. Client certificates (issued to fleetctl) carry ClientAuth
only.

The certs.go helpers (SaveCertToFile, LoadCertFromFile, CertNeedsRotation,
...) deal with the on-disk PEM representation of an already-issued
certificate, independent of the CA that issued it.
*/
package security

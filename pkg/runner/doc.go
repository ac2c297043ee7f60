/*
Package runner executes task payloads that have already passed policy
validation: echo, systemd service checks/restarts, rsync directory
sync, and single-shot containerd runs. RunCommand and Custom are
recognized but always refused, since no policy configuration permits
either to reach a node.
*/
package runner

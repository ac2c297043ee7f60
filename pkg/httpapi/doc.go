/*
Package httpapi is fleetd's control plane: cluster status, task and
goal submission, attachment listing, action tracker stats, and a
Prometheus metrics endpoint, all served over plain HTTP on the
listener split off the node's shared cmux bind port.
*/
package httpapi

package httpapi

import (
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/fleetctl/fleetd/pkg/logging"
	"github.com/fleetctl/fleetd/pkg/manager"
	"github.com/fleetctl/fleetd/pkg/metrics"
	"github.com/fleetctl/fleetd/pkg/security"
	"github.com/fleetctl/fleetd/pkg/tracker"
	"github.com/fleetctl/fleetd/pkg/types"
	"github.com/google/uuid"
)

// encodeCertAndKey PEM-encodes a freshly issued certificate and its RSA
// private key for transport in an enrollment response.
func encodeCertAndKey(cert *tls.Certificate) (certPEM, keyPEM string, err error) {
	certBlock := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Certificate[0]})

	key, ok := cert.PrivateKey.(*rsa.PrivateKey)
	if !ok {
		return "", "", fmt.Errorf("issued certificate has a non-RSA private key")
	}
	keyBlock := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})

	return string(certBlock), string(keyBlock), nil
}

// Applier is the subset of the replicator the control API needs:
// submit commands, read cluster state, and manage Raft membership for
// the join flow.
type Applier interface {
	Apply(cmd types.Command) error
	State() types.Snapshot
	IsLeader() bool
	LeaderAddr() string
	AddVoter(nodeID, addr string) error
}

// Server is fleetd's HTTP control API: cluster status and membership,
// task submission, goal management, enrollment, and a Prometheus metrics
// endpoint.
type Server struct {
	nodeID     string
	clusterID  string
	replicator Applier
	tracker    *tracker.Tracker
	ca         *security.CertAuthority
	tokens     *manager.TokenManager
	mux        *http.ServeMux
}

// New builds the control API's handler, wired against replicator and
// tracker for the given node. ca and tokens may be nil, in which case
// /enroll reports itself unavailable.
func New(nodeID, clusterID string, replicator Applier, trk *tracker.Tracker, ca *security.CertAuthority, tokens *manager.TokenManager) *Server {
	s := &Server{
		nodeID:     nodeID,
		clusterID:  clusterID,
		replicator: replicator,
		tracker:    trk,
		ca:         ca,
		tokens:     tokens,
		mux:        http.NewServeMux(),
	}

	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/status", s.handleStatus)
	s.mux.HandleFunc("/cluster", s.handleCluster)
	s.mux.HandleFunc("/tasks", s.handleTasks)
	s.mux.HandleFunc("/goals", s.handleGoals)
	s.mux.HandleFunc("/attachments", s.handleAttachments)
	s.mux.HandleFunc("/actions", s.handleActions)
	s.mux.HandleFunc("/enroll", s.handleEnroll)
	s.mux.HandleFunc("/peers", s.handlePeers)
	s.mux.Handle("/metrics", metrics.Handler())

	return s
}

// Serve runs the control API on ln until it is closed. ln is typically
// the HTTP-matched half of a cmux split shared with the Raft transport.
func (s *Server) Serve(ln net.Listener) error {
	server := &http.Server{
		Handler:      withLogging(s.mux),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return server.Serve(ln)
}

func withLogging(next http.Handler) http.Handler {
	log := logging.WithComponent("httpapi")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("request handled")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusResponse struct {
	NodeID      string `json:"node_id"`
	IsLeader    bool   `json:"is_leader"`
	LeaderAddr  string `json:"leader_addr,omitempty"`
	ClusterSize int    `json:"cluster_size"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snapshot := s.replicator.State()
	writeJSON(w, http.StatusOK, statusResponse{
		NodeID:      s.nodeID,
		IsLeader:    s.replicator.IsLeader(),
		LeaderAddr:  s.replicator.LeaderAddr(),
		ClusterSize: len(snapshot.Nodes),
	})
}

func (s *Server) handleCluster(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.replicator.State())
}

type submitTaskRequest struct {
	TargetNode string             `json:"target_node"`
	Payload    types.TaskPayload  `json:"payload"`
	Priority   *uint8             `json:"priority,omitempty"`
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.replicator.State().Tasks)

	case http.MethodPost:
		var req submitTaskRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}

		priority := uint8(5)
		if req.Priority != nil {
			priority = *req.Priority
		}

		task := types.Task{
			ID:         uuid.NewString(),
			TargetNode: req.TargetNode,
			Payload:    req.Payload,
			Status:     types.TaskPending,
			Priority:   priority,
			CreatedAt:  time.Now(),
			UpdatedAt:  time.Now(),
		}
		cmd, err := types.NewCommand(types.OpPutTask, task)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		if err := s.replicator.Apply(cmd); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusCreated, task)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

type addGoalRequest struct {
	Description string   `json:"description"`
	Constraints []string `json:"constraints,omitempty"`
	Priority    *uint8   `json:"priority,omitempty"`
}

func (s *Server) handleGoals(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.replicator.State().Goals)

	case http.MethodPost:
		var req addGoalRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}

		priority := uint8(5)
		if req.Priority != nil {
			priority = *req.Priority
		}

		goal := types.Goal{
			ID:          uuid.NewString(),
			Description: req.Description,
			Constraints: req.Constraints,
			Priority:    priority,
			Active:      true,
			CreatedAt:   time.Now(),
		}
		cmd, err := types.NewCommand(types.OpPutGoal, goal)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		if err := s.replicator.Apply(cmd); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusCreated, goal)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

type enrollRequest struct {
	Token     string   `json:"token"`
	NodeID    string   `json:"node_id"`
	Hostname  string   `json:"hostname"`
	Hostnames []string `json:"hostnames,omitempty"`
	IPs       []string `json:"ips,omitempty"`
	Tags      []string `json:"tags,omitempty"`
}

type peerEndpoint struct {
	NodeID string `json:"node_id"`
	Addr   string `json:"addr"`
}

type enrollResponse struct {
	NodeID       string         `json:"node_id"`
	ClusterID    string         `json:"cluster_id"`
	NodeCertPEM  string         `json:"node_cert_pem"`
	NodeKeyPEM   string         `json:"node_key_pem"`
	CACertPEM    string         `json:"ca_cert_pem"`
	Peers        []peerEndpoint `json:"peers"`
}

// handleEnroll issues a joining node a leaf certificate and the current
// peer list in exchange for a valid token minted by an existing node.
// Every tag in the request must be one of the token's tags; otherwise
// the request is refused with 403. It does not itself add the node to the Raft configuration; the caller
// still needs to POST /peers once it has dialed in with its new cert.
func (s *Server) handleEnroll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.ca == nil || s.tokens == nil {
		http.Error(w, "enrollment not configured on this node", http.StatusServiceUnavailable)
		return
	}

	var req enrollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	allowedTags, err := s.tokens.Validate(req.Token)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": err.Error()})
		return
	}
	for _, tag := range req.Tags {
		allowed := false
		for _, t := range allowedTags {
			if t == tag {
				allowed = true
				break
			}
		}
		if !allowed {
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "token does not allow tag " + tag})
			return
		}
	}

	dnsNames := append([]string{req.Hostname}, req.Hostnames...)
	ips := make([]net.IP, 0, len(req.IPs))
	for _, raw := range req.IPs {
		if ip := net.ParseIP(raw); ip != nil {
			ips = append(ips, ip)
		}
	}

	cert, err := s.ca.IssueNodeCertificate(req.NodeID, dnsNames, ips)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	certPEM, keyPEM, err := encodeCertAndKey(cert)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	snapshot := s.replicator.State()
	peers := make([]peerEndpoint, 0, len(snapshot.Nodes))
	for _, n := range snapshot.Nodes {
		peers = append(peers, peerEndpoint{NodeID: n.ID, Addr: n.Hostname})
	}

	writeJSON(w, http.StatusOK, enrollResponse{
		NodeID:      req.NodeID,
		ClusterID:   s.clusterID,
		NodeCertPEM: certPEM,
		NodeKeyPEM:  keyPEM,
		CACertPEM:   string(s.ca.GetRootCACert()),
		Peers:       peers,
	})
}

type joinRequest struct {
	NodeID string `json:"node_id"`
	Addr   string `json:"addr"`
}

// handlePeers adds a node as a Raft voter. Must be sent to the current
// leader; a non-leader replies with its known leader address so the
// caller can retry there.
func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	if !s.replicator.IsLeader() {
		writeJSON(w, http.StatusConflict, map[string]string{
			"error":       "not the leader",
			"leader_addr": s.replicator.LeaderAddr(),
		})
		return
	}

	if err := s.replicator.AddVoter(req.NodeID, req.Addr); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "joined"})
}

func (s *Server) handleAttachments(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.replicator.State().Attachments)
}

func (s *Server) handleActions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.tracker.Stats())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Package ipc exposes the daemon's five-method D-Bus surface (C5's IPC
// interface), translating bus calls into engine and store operations and
// enforcing caller-uid authorization on every call (spec.md §4.1).
package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/user"
	"strconv"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"

	"github.com/visage-project/visage/internal/config"
	"github.com/visage-project/visage/internal/daemon"
	"github.com/visage-project/visage/internal/emitter"
	"github.com/visage-project/visage/internal/logging"
	"github.com/visage-project/visage/internal/store"
	"github.com/visage-project/visage/internal/vision"
)

// BusName is the well-known bus name the daemon registers.
const BusName = "org.freedesktop.Visage1"

// ObjectPath is the single object the daemon exports.
const ObjectPath = dbus.ObjectPath("/org/freedesktop/Visage1")

// InterfaceName is the D-Bus interface name implemented at ObjectPath.
const InterfaceName = "org.freedesktop.Visage1"

// ErrNameTaken is returned by Register when BusName is already owned by
// another process (spec.md §4.1 step 5: "refuse to start if the name is
// already owned").
var ErrNameTaken = errors.New("ipc: bus name already owned")

// modelEntry is one row of ListModels's JSON array.
type modelEntry struct {
	ID        string `json:"id"`
	Label     string `json:"label"`
	CreatedAt int64  `json:"created_at"`
}

// statusReport is Status's JSON payload.
type statusReport struct {
	Camera              string       `json:"camera"`
	CameraUnsupported   bool         `json:"camera_unsupported"`
	ModelDir            string       `json:"model_dir"`
	EmitterActive       bool         `json:"emitter_active"`
	EnrolledUsers       int          `json:"enrolled_users"`
	SimilarityThreshold float64      `json:"similarity_threshold"`
	AccelerationBackend string       `json:"acceleration_backend"`
	KnownQuirks         []quirkEntry `json:"known_quirks"`
}

// quirkEntry is one entry of Status's non-sensitive quirk-table diagnostic
// dump: vendor/product IDs and camera names only, never control bytes.
type quirkEntry struct {
	VendorID  string `json:"vendor_id"`
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
}

func knownQuirks() []quirkEntry {
	quirks := emitter.ListQuirks()
	out := make([]quirkEntry, len(quirks))
	for i, q := range quirks {
		out[i] = quirkEntry{
			VendorID:  fmt.Sprintf("%04x", q.VendorID),
			ProductID: fmt.Sprintf("%04x", q.ProductID),
			Name:      q.Name,
		}
	}
	return out
}

// cameraUnsupported reports whether devicePath was enumerated as an
// unsupported (e.g. Intel IPU6) camera node.
func cameraUnsupported(devicePath string) bool {
	for _, d := range emitter.ListDevices() {
		if d.Path == devicePath {
			return d.Unsupported
		}
	}
	return false
}

// Service implements the org.freedesktop.Visage1 interface. It holds no
// mutable state of its own beyond what Engine and Store already
// serialize internally, so its methods need no locking.
type Service struct {
	conn    *dbus.Conn
	cfg     *config.Config
	engine  *daemon.Engine
	store   *store.Store
	limiter *daemon.RateLimiter

	// emitterAvailable reports whether the IR emitter controller resolved
	// a quirk for the configured camera and is enabled; Status surfaces
	// it verbatim rather than probing hardware on every call.
	emitterAvailable bool

	// resolveUID maps a D-Bus sender name to its Unix uid. Defaults to
	// querying the bus daemon; overridden in tests to avoid requiring a
	// live bus connection.
	resolveUID func(sender dbus.Sender) (uint32, error)

	// resolveAccount maps a Unix uid to its system account name. Defaults
	// to the OS user database; overridden in tests.
	resolveAccount func(uid uint32) (string, error)
}

// Register opens a connection to the system (or, if cfg.SessionBus, the
// per-user session) bus, exports a Service at ObjectPath, and claims
// BusName. It fails if the name is already owned by another process.
func Register(cfg *config.Config, eng *daemon.Engine, st *store.Store, limiter *daemon.RateLimiter, emitterAvailable bool) (*Service, error) {
	var conn *dbus.Conn
	var err error
	if cfg.SessionBus {
		conn, err = dbus.ConnectSessionBus()
	} else {
		conn, err = dbus.ConnectSystemBus()
	}
	if err != nil {
		return nil, fmt.Errorf("ipc: connecting to bus: %w", err)
	}

	svc := &Service{conn: conn, cfg: cfg, engine: eng, store: st, limiter: limiter, emitterAvailable: emitterAvailable}
	svc.resolveUID = svc.busCallerUID
	svc.resolveAccount = osUserLookupID

	if err := conn.Export(svc, ObjectPath, InterfaceName); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ipc: exporting service: %w", err)
	}
	node := &introspect.Node{
		Interfaces: []introspect.Interface{introspect.IntrospectData, {
			Name: InterfaceName,
			Methods: []introspect.Method{
				{Name: "Enroll", Args: []introspect.Arg{
					{Name: "user", Type: "s", Direction: "in"},
					{Name: "label", Type: "s", Direction: "in"},
					{Name: "model_id", Type: "s", Direction: "out"},
				}},
				{Name: "Verify", Args: []introspect.Arg{
					{Name: "user", Type: "s", Direction: "in"},
					{Name: "matched", Type: "b", Direction: "out"},
				}},
				{Name: "ListModels", Args: []introspect.Arg{
					{Name: "user", Type: "s", Direction: "in"},
					{Name: "models_json", Type: "s", Direction: "out"},
				}},
				{Name: "RemoveModel", Args: []introspect.Arg{
					{Name: "user", Type: "s", Direction: "in"},
					{Name: "model_id", Type: "s", Direction: "in"},
					{Name: "removed", Type: "b", Direction: "out"},
				}},
				{Name: "Status", Args: []introspect.Arg{
					{Name: "status_json", Type: "s", Direction: "out"},
				}},
			},
		}},
	}
	if err := conn.Export(introspect.NewIntrospectable(node), ObjectPath, "org.freedesktop.DBus.Introspectable"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ipc: exporting introspection: %w", err)
	}

	reply, err := conn.RequestName(BusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ipc: requesting bus name %s: %w", BusName, err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		conn.Close()
		return nil, fmt.Errorf("%w: %s", ErrNameTaken, BusName)
	}

	logging.Component("ipc").WithFields(logging.Fields{"name": BusName, "path": ObjectPath}).Info("registered on bus")
	return svc, nil
}

// Close releases the bus connection.
func (s *Service) Close() error {
	return s.conn.Close()
}

// busCallerUID asks the bus daemon for sender's Unix uid via the standard
// org.freedesktop.DBus.GetConnectionUnixUser method (spec.md §4.1
// "Caller authorization").
func (s *Service) busCallerUID(sender dbus.Sender) (uint32, error) {
	var uid uint32
	obj := s.conn.BusObject()
	err := obj.Call("org.freedesktop.DBus.GetConnectionUnixUser", 0, string(sender)).Store(&uid)
	if err != nil {
		return 0, fmt.Errorf("ipc: resolving caller uid: %w", err)
	}
	return uid, nil
}

// requireRoot rejects the call unless sender's uid is 0.
func (s *Service) requireRoot(sender dbus.Sender) *dbus.Error {
	uid, err := s.resolveUID(sender)
	if err != nil {
		return dbus.MakeFailedError(err)
	}
	if uid != 0 {
		logging.Component("ipc").WithField("uid", uid).Warn("rejected root-only call from non-root caller")
		return dbus.NewError("org.freedesktop.DBus.Error.AccessDenied", []any{"root privileges required"})
	}
	return nil
}

// requireSelfOrRoot enforces that a non-root caller's uid resolves to the
// same system account as user, closing the confused-deputy hole where an
// unprivileged process could probe another user's enrollments.
func (s *Service) requireSelfOrRoot(sender dbus.Sender, user string) *dbus.Error {
	uid, err := s.resolveUID(sender)
	if err != nil {
		return dbus.MakeFailedError(err)
	}
	if uid == 0 {
		return nil
	}

	account, err := s.resolveAccount(uid)
	if err != nil || account != user {
		logging.Component("ipc").WithFields(logging.Fields{"uid": uid, "requested_user": user}).Warn("rejected cross-user verify attempt")
		return dbus.NewError("org.freedesktop.DBus.Error.AccessDenied", []any{"may not act on another user's account"})
	}
	return nil
}

func osUserLookupID(uid uint32) (string, error) {
	u, err := user.LookupId(strconv.FormatUint(uint64(uid), 10))
	if err != nil {
		return "", err
	}
	return u.Username, nil
}

// Enroll implements the Enroll method. caller uid must be 0.
func (s *Service) Enroll(user, label string, sender dbus.Sender) (string, *dbus.Error) {
	if derr := s.requireRoot(sender); derr != nil {
		return "", derr
	}

	log := logging.Component("ipc").WithFields(logging.Fields{"user": user, "label": label})
	log.Info("enroll requested")

	result, err := s.engine.Enroll(context.Background(), s.cfg.FramesPerEnroll)
	if err != nil {
		log.WithError(err).Error("enroll failed")
		return "", dbus.MakeFailedError(err)
	}

	quality := float64(result.QualityScore)
	id, err := s.store.Enroll(context.Background(), store.Record{
		User: user, Label: label, Embedding: result.Embedding, QualityScore: &quality,
	})
	if err != nil {
		log.WithError(err).Error("enroll: store insert failed")
		return "", dbus.MakeFailedError(err)
	}

	log.WithField("model_id", id).Info("enrolled successfully")
	return id, nil
}

// Verify implements the Verify method. A non-root caller may only query
// their own account.
func (s *Service) Verify(user string, sender dbus.Sender) (bool, *dbus.Error) {
	if derr := s.requireSelfOrRoot(sender, user); derr != nil {
		return false, derr
	}

	log := logging.Component("ipc").WithField("user", user)
	log.Info("verify requested")

	if s.limiter.Locked(user) {
		log.Warn("verify: user locked out, returning no-match without invoking the engine")
		return false, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(s.cfg.VerifyTimeoutSecs)*time.Second)
	defer cancel()

	gallery, err := s.store.Gallery(ctx, user)
	if err != nil {
		log.WithError(err).Error("verify: gallery fetch failed")
		return false, dbus.MakeFailedError(err)
	}

	result, err := s.engine.Verify(ctx, gallery, float32(s.cfg.SimilarityThreshold), s.cfg.FramesPerVerify)
	if err != nil {
		if errors.Is(err, daemon.ErrNoFaceDetected) || errors.Is(err, daemon.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			log.Debug("verify: no usable face in any captured frame")
			s.limiter.RecordFailure(user)
			return false, nil
		}
		log.WithError(err).Error("verify failed")
		return false, dbus.MakeFailedError(err)
	}

	if result.Result.Matched {
		s.limiter.RecordSuccess(user)
	} else {
		s.limiter.RecordFailure(user)
	}

	log.WithFields(logging.Fields{"matched": result.Result.Matched, "similarity": result.Result.Similarity}).Info("verify complete")
	return result.Result.Matched, nil
}

// ListModels implements the ListModels method. caller uid must be 0.
func (s *Service) ListModels(user string, sender dbus.Sender) (string, *dbus.Error) {
	if derr := s.requireRoot(sender); derr != nil {
		return "", derr
	}

	records, err := s.store.ListModels(context.Background(), user)
	if err != nil {
		return "", dbus.MakeFailedError(err)
	}

	entries := make([]modelEntry, len(records))
	for i, rec := range records {
		entries[i] = modelEntry{ID: rec.ID, Label: rec.Label, CreatedAt: rec.CreatedAt.Unix()}
	}
	payload, err := json.Marshal(entries)
	if err != nil {
		return "", dbus.MakeFailedError(err)
	}
	return string(payload), nil
}

// RemoveModel implements the RemoveModel method. caller uid must be 0.
func (s *Service) RemoveModel(user, modelID string, sender dbus.Sender) (bool, *dbus.Error) {
	if derr := s.requireRoot(sender); derr != nil {
		return false, derr
	}

	removed, err := s.store.RemoveModel(context.Background(), user, modelID)
	if err != nil {
		return false, dbus.MakeFailedError(err)
	}
	if removed {
		logging.Component("ipc").WithFields(logging.Fields{"user": user, "model_id": modelID}).Info("model removed")
	} else {
		logging.Component("ipc").WithFields(logging.Fields{"user": user, "model_id": modelID}).Warn("model not found or not owned by user")
	}
	return removed, nil
}

// Status implements the Status method. Any caller may invoke it.
func (s *Service) Status(sender dbus.Sender) (string, *dbus.Error) {
	count, err := s.store.CountUsers(context.Background())
	if err != nil {
		return "", dbus.MakeFailedError(err)
	}

	payload, err := json.Marshal(statusReport{
		Camera:              s.cfg.CameraDevice,
		CameraUnsupported:   cameraUnsupported(s.cfg.CameraDevice),
		ModelDir:            s.cfg.ModelDir,
		EmitterActive:       s.emitterAvailable,
		EnrolledUsers:       count,
		SimilarityThreshold: s.cfg.SimilarityThreshold,
		AccelerationBackend: vision.DetectAccelerationBackend().Name,
		KnownQuirks:         knownQuirks(),
	})
	if err != nil {
		return "", dbus.MakeFailedError(err)
	}
	return string(payload), nil
}

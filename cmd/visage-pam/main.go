// Command visage-pam is the Visage PAM client (C6). Built with
// `go build -buildmode=c-shared`, it produces a C-ABI shared object that
// the PAM stack dlopen()s and calls into via pam_sm_authenticate /
// pam_sm_setcred. It never owns the camera or runs inference itself: it is
// a thin, hard-timeout-bounded D-Bus client to visaged, grounded on
// original_source's pam-visage crate (crates/pam-visage/src/lib.rs) — the
// panic::catch_unwind boundary there becomes a deferred recover() here, and
// the zbus blocking proxy becomes a godbus call under context.WithTimeout.
//
// The single invariant that matters more than any other: every failure
// path returns PAM_IGNORE, never an authentication denial. A user must
// always be able to fall through to their password if this module, or the
// daemon behind it, is broken.
package main

/*
#cgo LDFLAGS: -lpam
#include <stdlib.h>

struct pam_message {
	int msg_style;
	const char *msg;
};

struct pam_response {
	char *resp;
	int resp_retcode;
};

struct pam_conv {
	int (*conv)(int num_msg, const struct pam_message **msg,
		struct pam_response **resp, void *appdata_ptr);
	void *appdata_ptr;
};

extern int pam_get_user(void *pamh, const char **user, const char *prompt);
extern int pam_get_item(const void *pamh, int item_type, const void **item);

static int visage_send_conv(struct pam_conv *conv, const struct pam_message *msg, struct pam_response **resp) {
	if (conv == NULL || conv->conv == NULL) {
		return -1;
	}
	const struct pam_message *msgs[1];
	msgs[0] = msg;
	return conv->conv(1, msgs, resp, conv->appdata_ptr);
}
*/
import "C"

import (
	"context"
	"fmt"
	"io"
	"time"
	"unsafe"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
	logsyslog "github.com/sirupsen/logrus/hooks/syslog"
	stdsyslog "log/syslog"

	"github.com/visage-project/visage/internal/ipc"
)

// PAM return codes and item types (Linux-PAM <security/pam_appl.h>,
// <security/pam_modules.h>). Load-bearing: a wrong value here silently
// mis-routes the PAM stack rather than producing a visible error.
const (
	pamSuccess  = C.int(0)
	pamIgnore   = C.int(25)
	pamConvItem = C.int(5)
	pamTextInfo = C.int(4)
)

// verifyTimeout is the method-call deadline enforced around the single
// Verify RPC (spec.md §4.6 step 2). It is deliberately short: a hung daemon
// must never turn into a hung login prompt.
const verifyTimeout = 3 * time.Second

func main() {} // required by -buildmode=c-shared; never invoked.

var pamLog = newSyslogLogger()

// newSyslogLogger routes all diagnostics to the system authentication
// facility (spec.md §4.6 "Logging"), never to stdout/stderr — those may be
// a user's login terminal. If the syslog socket can't be reached (e.g. in
// an environment without /dev/log) logging is silently discarded rather
// than falling back to the terminal.
func newSyslogLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)

	hook, err := logsyslog.NewSyslogHook("", "", stdsyslog.LOG_AUTHPRIV|stdsyslog.LOG_INFO, "visage-pam")
	if err == nil {
		log.AddHook(hook)
	}
	return log
}

// pam_sm_authenticate is the PAM authentication entry point, called by the
// host framework when `auth sufficient visage_pam.so` (or similar) is
// configured. The whole body runs behind a deferred recover so a panic
// anywhere below never unwinds across the cgo/C-ABI boundary — that is
// undefined behavior from PAM's side and must collapse to PAM_IGNORE
// exactly like any other failure.
//
//export pam_sm_authenticate
func pam_sm_authenticate(pamh unsafe.Pointer, flags, argc C.int, argv **C.char) C.int {
	result := pamIgnore
	func() {
		defer func() {
			if r := recover(); r != nil {
				pamLog.WithField("panic", r).Error("panic recovered in pam_sm_authenticate")
				result = pamIgnore
			}
		}()
		result = authenticate(pamh)
	}()
	return result
}

func authenticate(pamh unsafe.Pointer) C.int {
	username, err := pamGetUser(pamh)
	if err != nil {
		pamLog.WithError(err).Error("pam_get_user failed")
		return pamIgnore
	}

	matched, err := verifyFace(username)
	if err != nil {
		pamLog.WithError(err).WithField("user", username).Warn("visage verify failed")
		return pamIgnore
	}
	if !matched {
		pamLog.WithField("user", username).Info("no face match")
		return pamIgnore
	}

	pamLog.WithField("user", username).Info("face matched")
	sendTextInfo(pamh, "Visage: face recognized")
	return pamSuccess
}

// pam_sm_setcred is required by the PAM module ABI but Visage manages no
// credentials of its own.
//
//export pam_sm_setcred
func pam_sm_setcred(pamh unsafe.Pointer, flags, argc C.int, argv **C.char) C.int {
	return pamIgnore
}

// pamGetUser extracts the account name the PAM stack is authenticating,
// via the host framework's pam_get_user(3).
func pamGetUser(pamh unsafe.Pointer) (string, error) {
	var cUser *C.char
	ret := C.pam_get_user(pamh, &cUser, nil)
	if ret != pamSuccess || cUser == nil {
		return "", fmt.Errorf("pam_get_user returned %d", int(ret))
	}
	return C.GoString(cUser), nil
}

// sendTextInfo emits a single non-interactive informational message via
// the PAM conversation callback. Failures here are swallowed: this is
// cosmetic feedback and must never affect the authentication outcome
// (spec.md §4.6 "No conversation").
func sendTextInfo(pamh unsafe.Pointer, text string) {
	var convPtr unsafe.Pointer
	ret := C.pam_get_item(pamh, pamConvItem, &convPtr)
	if ret != pamSuccess || convPtr == nil {
		return
	}

	cText := C.CString(text)
	defer C.free(unsafe.Pointer(cText))

	msg := C.struct_pam_message{
		msg_style: pamTextInfo,
		msg:       cText,
	}

	var resp *C.struct_pam_response
	C.visage_send_conv((*C.struct_pam_conv)(convPtr), &msg, &resp)
	if resp != nil {
		if resp.resp != nil {
			C.free(unsafe.Pointer(resp.resp))
		}
		C.free(unsafe.Pointer(resp))
	}
}

// verifyFace connects to the system bus and calls Visage1.Verify(username),
// bounded by verifyTimeout. It returns (false, nil) only when the daemon
// responded with a genuine non-match; every connection, call, or timeout
// failure comes back as a non-nil error, which the caller also maps to
// PAM_IGNORE — the two cases are handled identically by design.
func verifyFace(username string) (bool, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return false, fmt.Errorf("connect system bus: %w", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), verifyTimeout)
	defer cancel()

	obj := conn.Object(ipc.BusName, ipc.ObjectPath)
	var matched bool
	err = obj.CallWithContext(ctx, ipc.InterfaceName+".Verify", 0, username).Store(&matched)
	if err != nil {
		return false, fmt.Errorf("Verify(%s): %w", username, err)
	}
	return matched, nil
}

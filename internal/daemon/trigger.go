package daemon

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"
)

// startTrigger serves the manual trigger endpoint. POST /sync queues a
// debounced cycle and returns immediately.
func (d *Daemon) startTrigger(ctx context.Context) error {
	listener, err := d.listen()
	if err != nil {
		return fmt.Errorf("failed to listen on trigger address: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/sync", d.handleTrigger)

	server := &http.Server{
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 16,
	}

	go func() {
		d.logger.Info("trigger endpoint listening", "addr", listener.Addr().String())
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			d.logger.Error("trigger server failed", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	return nil
}

func (d *Daemon) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	d.logger.Info("manual sync trigger received", "remote", r.RemoteAddr)
	d.debounce.trigger()
	w.WriteHeader(http.StatusAccepted)
	_, _ = w.Write([]byte("sync queued\n"))
}

// listen binds the trigger listener, preferring a socket inherited via
// systemd socket activation over the configured address.
func (d *Daemon) listen() (net.Listener, error) {
	if l, err := activatedListener(); err != nil {
		return nil, err
	} else if l != nil {
		d.logger.Info("using systemd-activated trigger socket")
		return l, nil
	}
	return net.Listen("tcp", d.cfg.Daemon.TriggerAddr)
}

// activatedListener returns the first listener passed by systemd
// socket activation, or nil when activation is not in effect for this
// process. Systemd hands sockets over starting at fd 3 and announces
// them via LISTEN_PID and LISTEN_FDS.
func activatedListener() (net.Listener, error) {
	pidStr := os.Getenv("LISTEN_PID")
	if pidStr == "" {
		return nil, nil
	}
	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return nil, fmt.Errorf("invalid LISTEN_PID %q: %w", pidStr, err)
	}
	if pid != os.Getpid() {
		return nil, nil
	}

	numFDs, err := strconv.Atoi(os.Getenv("LISTEN_FDS"))
	if err != nil || numFDs < 1 {
		return nil, nil
	}

	const firstFD = 3
	file := os.NewFile(uintptr(firstFD), "systemd-trigger-socket")
	if file == nil {
		return nil, fmt.Errorf("failed to open activated socket fd %d", firstFD)
	}
	listener, err := net.FileListener(file)
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to create listener from activated socket: %w", err)
	}
	return listener, nil
}

// Package process supervises long-running helper daemons.
//
// The node uses it to run wpa_supplicant for the wireless link. The
// supervisor starts the daemon in its own process group, logs its output,
// restarts it after unexpected exits on a backoff policy, and stops the
// whole group with SIGTERM then SIGKILL.
//
// Example usage:
//
//	mgr := process.NewManager(process.Config{
//	    Name:   "wpa_supplicant",
//	    Binary: "/sbin/wpa_supplicant",
//	    Args:   []string{"-i", "wlan0", "-c", "/run/graylogic-node/wpa.conf"},
//	    RestartBackoff: func() backoff.BackOff {
//	        return backoff.WithMaxRetries(backoff.NewConstantBackOff(5*time.Second), 10)
//	    },
//	})
//	if err := mgr.Start(ctx); err != nil {
//	    return err
//	}
//	defer mgr.Stop()
package process

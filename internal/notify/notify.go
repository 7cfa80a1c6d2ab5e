package notify

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"github.com/neboloop/wplace-painter/internal/logging"
)

// AppName is shown as the notification source where the OS supports it.
const AppName = "wpaint"

// Send displays a native OS notification.
// Falls back silently if the notification system is unavailable.
func Send(title, body string) {
	cmd := command(runtime.GOOS, title, body)
	if cmd == nil {
		return
	}
	if err := cmd.Run(); err != nil {
		logging.Debugf("[notify] failed to send notification: %v", err)
	}
}

// command builds the notifier invocation for goos, or nil when unsupported.
func command(goos, title, body string) *exec.Cmd {
	// Sanitize inputs to prevent command injection
	title = sanitize(title)
	body = sanitize(body)

	switch goos {
	case "darwin":
		script := fmt.Sprintf(`display notification %q with title %q`, body, title)
		return exec.Command("osascript", "-e", script)

	case "linux":
		return exec.Command("notify-send", "--app-name="+AppName, title, body)

	case "windows":
		// PowerShell toast notification
		ps := fmt.Sprintf(`
[Windows.UI.Notifications.ToastNotificationManager, Windows.UI.Notifications, ContentType = WindowsRuntime] > $null
$template = [Windows.UI.Notifications.ToastNotificationManager]::GetTemplateContent([Windows.UI.Notifications.ToastTemplateType]::ToastText02)
$textNodes = $template.GetElementsByTagName('text')
$textNodes.Item(0).AppendChild($template.CreateTextNode('%s')) > $null
$textNodes.Item(1).AppendChild($template.CreateTextNode('%s')) > $null
$toast = [Windows.UI.Notifications.ToastNotification]::new($template)
[Windows.UI.Notifications.ToastNotificationManager]::CreateToastNotifier('%s').Show($toast)
`, title, body, AppName)
		return exec.Command("powershell", "-NoProfile", "-NonInteractive", "-Command", ps)
	}
	return nil
}

// sanitize removes characters that could break shell quoting.
func sanitize(s string) string {
	s = strings.ReplaceAll(s, "'", "''")
	s = strings.ReplaceAll(s, "\\", "")
	s = strings.ReplaceAll(s, "\n", " ")
	// Truncate to reasonable length for notifications
	if len(s) > 256 {
		s = s[:256] + "..."
	}
	return s
}

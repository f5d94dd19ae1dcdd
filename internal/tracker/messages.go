package tracker

import (
	"fmt"
	"strings"

	"github.com/vidproof/backend/internal/markdown"
	"github.com/vidproof/backend/internal/models"
)

const rejectionMessage = "⚠️ Tu evidencia ha sido rechazada. Por favor, envía una nueva captura de pantalla del video."

func newVideoLinkMessage(video models.Video) string {
	return fmt.Sprintf("📹 ¡Nuevo video disponible!\n\n%s\n\n🔗 Link: %s\n\nPor favor, ve el video y envía una captura de pantalla como evidencia.",
		markdown.Bold(video.Title), markdown.Escape(video.URL))
}

func newVideoCaption(video models.Video) string {
	return fmt.Sprintf("📹 %s\n\n⬇️ Descarga este video y envía una captura de pantalla como evidencia.", markdown.Bold(video.Title))
}

func reminderMessage(name string, titles []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "⏰ *Recordatorio*\n\nHola %s, tienes %d video(s) pendiente(s):\n\n", markdown.Escape(name), len(titles))
	for _, title := range titles {
		fmt.Fprintf(&b, "• %s\n", markdown.Escape(title))
	}
	b.WriteString("\nPor favor, envía las evidencias correspondientes.")
	return b.String()
}

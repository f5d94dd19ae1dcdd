package bot

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/vidproof/backend/internal/markdown"
	"github.com/vidproof/backend/internal/models"
)

// Participant-facing texts use Telegram's legacy Markdown.
const (
	msgGenericError          = "Ocurrió un error. Por favor, intenta de nuevo."
	msgWelcome               = "¡Bienvenido a VidProof! 🎬\n\nPor favor, envía tu *nombre completo* para registrarte."
	msgInvalidName           = "Por favor, envía un nombre válido (mínimo 3 caracteres)."
	msgRegistrationError     = "Hubo un error al registrarte. Por favor, intenta de nuevo."
	msgNotRegistered         = "No estás registrado. Envía /start para registrarte primero."
	msgRegisterFirst         = "Primero debes registrarte. Envía /start para comenzar."
	msgCancelled             = "❌ Operación cancelada."
	msgSendVideoCommandFirst = "Para subir un video, primero envía el comando /video"
	msgUploadPrompt          = "📹 *Subir Nuevo Video*\n\nEnvía el video que quieres compartir con todos los participantes.\n\n⚠️ El video será comprimido automáticamente por Telegram."
	msgAskTitleAgain         = "Envía el *título* del video:"
	msgProcessingVideo       = "⏳ Procesando y enviando video a todos los participantes..."
	msgVideoSaveError        = "❌ Error al guardar el video. Intenta de nuevo con /video."
	msgVideoAssignError      = "❌ El video se guardó pero no se pudieron crear las tareas. Intenta de nuevo."
	msgNoRecipients          = "⚠️ Video guardado pero no hay usuarios registrados para notificar."
	msgNoPendingTasks        = "¡No tienes tareas pendientes! 🎉 Ya completaste todas tus evidencias."
	msgImageFetchError       = "Error al obtener la imagen. Intenta de nuevo."
	msgImageSaveError        = "Error al guardar la imagen. Por favor, intenta de nuevo."
	msgTaskUpdateError       = "Error al actualizar la tarea. Intenta de nuevo."
	msgAllTasksDone          = "✅ *Reporte de Pendientes*\n\n¡Excelente! Todos los usuarios han completado sus tareas."
	telegramVideoDescription = "Video subido desde Telegram"
	reportSeparator          = "───────────────────\n"
	dateLayout               = "02/01/2006 15:04"
	untitledVideo            = "el video"
)

func greetingMessage(name string) string {
	return fmt.Sprintf("¡Hola de nuevo, %s! 👋\n\nEnvía una captura de pantalla para registrar tu evidencia.", markdown.Escape(name))
}

func registeredMessage(name string) string {
	return fmt.Sprintf("¡Registro exitoso, %s! ✅\n\nCuando veas un video, envía una captura de pantalla como evidencia.", markdown.Escape(name))
}

func photoHintMessage(name string) string {
	return fmt.Sprintf("Hola %s, para registrar una evidencia, envía una *foto* (captura de pantalla del video).", markdown.Escape(name))
}

func videoReceivedMessage(sizeBytes int64) string {
	mb := math.Round(float64(sizeBytes)/1024/1024*100) / 100
	return fmt.Sprintf("✅ Video recibido (%s MB)\n\nAhora envía el *título* del video:", strconv.FormatFloat(mb, 'f', -1, 64))
}

func broadcastCaption(title string) string {
	return fmt.Sprintf("📹 %s\n\n⬇️ Descarga este video, resúbelo en tus redes sociales y envía una captura de pantalla como evidencia.", markdown.Bold(title))
}

func publishSummaryMessage(title string, delivered, failed int) string {
	return fmt.Sprintf("✅ *Video publicado exitosamente!*\n\n📊 Resumen:\n• Título: %s\n• Enviado a: %d usuarios\n• Fallidos: %d\n• Expira en: 7 días\n\nLos usuarios deben enviar una captura de pantalla como evidencia.",
		markdown.Bold(title), delivered, failed)
}

func evidenceReceivedMessage(title string, remaining int, countKnown bool) string {
	if title == "" {
		title = untitledVideo
	}
	msg := fmt.Sprintf("✅ ¡Evidencia recibida para %s!", markdown.Bold(title))
	switch {
	case !countKnown:
	case remaining > 0:
		msg += fmt.Sprintf("\n\nTienes %d tarea(s) pendiente(s).", remaining)
	default:
		msg += "\n\n¡Has completado todas tus tareas! 🎉"
	}
	return msg
}

type pendingGroup struct {
	name   string
	titles []string
}

func pendingReportMessage(groups []pendingGroup, total int) string {
	var b strings.Builder
	b.WriteString("📊 *Reporte de Tareas Pendientes*\n\n")
	fmt.Fprintf(&b, "Total de tareas pendientes: %d\n", total)
	fmt.Fprintf(&b, "Usuarios con pendientes: %d\n\n", len(groups))
	b.WriteString(reportSeparator + "\n")
	for _, g := range groups {
		fmt.Fprintf(&b, "👤 %s (%d)\n", markdown.Bold(g.name), len(g.titles))
		for _, title := range g.titles {
			fmt.Fprintf(&b, "   • %s\n", markdown.Escape(title))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func noTasksMessage(name string) string {
	return fmt.Sprintf("👤 %s\n\nNo tienes tareas asignadas aún.", markdown.Bold(name))
}

func (e *Engine) myTasksMessage(name string, tasks []models.TaskDetail) string {
	var (
		b       strings.Builder
		done    int
		pending int
	)
	fmt.Fprintf(&b, "👤 %s\n\n📋 *Tus últimas tareas:*\n\n", markdown.Bold(name))
	for _, task := range tasks {
		title := task.VideoTitle
		if title == "" {
			title = "Video desconocido"
		}
		if task.Status == models.TaskStatusDone {
			done++
			date := "Sin fecha"
			if task.CompletedAt != nil {
				date = task.CompletedAt.In(e.loc).Format(dateLayout)
			}
			fmt.Fprintf(&b, "✅ %s\n   Completado: %s\n", markdown.Bold(title), date)
			if task.EvidenceURL != "" {
				fmt.Fprintf(&b, "   📸 [Ver evidencia](%s)\n", task.EvidenceURL)
			}
		} else {
			pending++
			fmt.Fprintf(&b, "⏳ %s - Pendiente\n", markdown.Bold(title))
		}
		b.WriteString("\n")
	}
	b.WriteString(reportSeparator)
	fmt.Fprintf(&b, "✅ Completadas: %d\n", done)
	fmt.Fprintf(&b, "⏳ Pendientes: %d", pending)
	return b.String()
}

package command

import (
	"golang.org/x/text/language"

	"github.com/ferrowell/parley/labels"
)

// newCatalog builds the demo's label catalog: the builtin English table plus
// Spanish, negotiated against the configured locale.
func newCatalog() *labels.Catalog {
	c := labels.NewCatalog()
	c.Register(language.Spanish, spanish)
	return c
}

var spanish = labels.Table{
	labels.KeyMessageSending: "Enviando...",
	labels.KeyMessageFailed:  "No se pudo enviar. Toca para reintentar.",
	labels.KeyMessageRetry:   "Reintentar",
	labels.KeyMessageDeleted: "Este mensaje fue eliminado.",
	labels.KeyNewMessages:    "Mensajes nuevos",
	labels.KeyChannelLoading: "Cargando mensajes...",
	labels.KeyChannelGone:    "Este canal ya no existe.",
	labels.KeyMentionNobody:  "Sin coincidencias",
}

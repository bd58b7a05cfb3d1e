package document

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/airenas/go-app/pkg/goapp"
	eapi "github.com/zangari/transcrever/internal/pkg/engine/api"
	"github.com/zangari/transcrever/internal/pkg/utils"
)

// ResultFilePrefix starts every assembled document name,
// it separates documents from uploaded inputs in the store
const ResultFilePrefix = "transcricao_"

// FileSaver saves the assembled document
type FileSaver interface {
	SaveFile(ctx context.Context, name string, r io.Reader) error
}

// Input is the assembler input
type Input struct {
	FileName      string
	SpeakerLabels bool
	Result        *eapi.TranscriptResult
}

// Output names the stored document and reports diarization info
type Output struct {
	Document string
	// SpeakerCount is nil when speaker labels were not requested,
	// zero when requested but the provider returned no utterances
	SpeakerCount *int
	// SpeakerDurations sums spoken seconds per label, nil without labels
	SpeakerDurations map[string]float64
}

// Assembler builds the final transcript document and stores it
type Assembler struct {
	saver FileSaver
	now   func() time.Time
}

// NewAssembler creates an assembler
func NewAssembler(saver FileSaver) (*Assembler, error) {
	if saver == nil {
		return nil, fmt.Errorf("no file saver")
	}
	return &Assembler{saver: saver, now: time.Now}, nil
}

// Assemble renders the transcript into a document and saves it
// under a timestamped name the caller can later download by
func (a *Assembler) Assemble(ctx context.Context, id string, inp *Input) (*Output, error) {
	name := fmt.Sprintf("%s%s.txt", ResultFilePrefix, a.now().Format("20060102_150405"))
	text := a.render(inp)
	goapp.Log.Info().Str("ID", id).Str("file", name).Msg("assembling document")
	if err := a.saver.SaveFile(ctx, name, strings.NewReader(text)); err != nil {
		return nil, utils.NewDocumentWrite(err)
	}
	res := &Output{Document: name}
	if inp.SpeakerLabels {
		res.SpeakerDurations = SpeakerDurations(inp.Result.Utterances)
		c := len(res.SpeakerDurations)
		res.SpeakerCount = &c
	}
	return res, nil
}

func (a *Assembler) render(inp *Input) string {
	sb := &strings.Builder{}
	sb.WriteString("Transcrição de Áudio\n")
	sb.WriteString(fmt.Sprintf("Gerado em: %s\n", a.now().Format("02/01/2006 15:04:05")))
	sb.WriteString(fmt.Sprintf("Arquivo original: %s\n\n", inp.FileName))
	if inp.SpeakerLabels {
		renderSpeakers(sb, inp.Result)
	} else {
		sb.WriteString(inp.Result.Text)
		sb.WriteString("\n")
	}
	return sb.String()
}

func renderSpeakers(sb *strings.Builder, res *eapi.TranscriptResult) {
	if len(res.Utterances) == 0 {
		sb.WriteString("Aviso: a identificação de falantes foi solicitada, mas nenhum falante foi identificado.\n\n")
		sb.WriteString(res.Text)
		sb.WriteString("\n")
		return
	}
	durations := SpeakerDurations(res.Utterances)
	speakers := make([]string, 0, len(durations))
	for s := range durations {
		speakers = append(speakers, s)
	}
	sort.Strings(speakers)
	sb.WriteString(fmt.Sprintf("Falantes identificados: %d\n", len(speakers)))
	for _, s := range speakers {
		sb.WriteString(fmt.Sprintf("Speaker %s: %.2fs\n", s, durations[s]))
	}
	sb.WriteString("\n")
	for _, u := range res.Utterances {
		sb.WriteString(fmt.Sprintf("Speaker %s [%.2fs - %.2fs]: %s\n", u.Speaker,
			float64(u.StartMs)/1000, float64(u.EndMs)/1000, u.Text))
	}
}

// SpeakerDurations sums spoken seconds per speaker label
func SpeakerDurations(utts []eapi.Utterance) map[string]float64 {
	res := map[string]float64{}
	for _, u := range utts {
		res[u.Speaker] += float64(u.EndMs-u.StartMs) / 1000
	}
	return res
}

package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/irrigation-scheduler/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"clock": func(t time.Time) string {
		if t.IsZero() {
			return "-"
		}
		return t.Format("02/01/2006 15:04:05")
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html lang="pt-BR">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta http-equiv="refresh" content="30">
<title>Irrigação</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.on { color: green; font-weight: bold; }
.off { color: #888; }
.ok { color: green; }
.bad { color: red; }
</style>
</head>
<body>
<h1>Irrigação</h1>

<h2>Rega</h2>
<table>
{{if .Watering}}<tr><th>Estado</th><td id="state" class="on">Regando agora!</td></tr>
<tr><th>Horário</th><td>{{.Session.EntryTime}}</td></tr>
<tr><th>Início</th><td>{{clock .Session.StartedAt}}</td></tr>
<tr><th>Fim</th><td>{{clock .Session.EndsAt}}</td></tr>
<tr><th>Restante</th><td>{{uptime .Remaining}}</td></tr>
{{else}}<tr><th>Estado</th><td id="state" class="off">Aguardando próximo horário</td></tr>
{{if .Session.Completed}}<tr><th>Última rega</th><td>{{clock .Session.CompletedAt}}</td></tr>{{end}}
{{end}}<tr><th>Válvula</th><td class="{{if .ValveOpen}}on{{else}}off{{end}}">{{if .ValveOpen}}aberta{{else}}fechada{{end}}</td></tr>
</table>

<h2>Conectividade</h2>
<table>
<tr><th>Banco</th><td class="{{if .StoreHealthy}}ok{{else}}bad{{end}}">{{.Config.StoreDriver}} {{if .StoreHealthy}}ok{{else}}falhou: {{.LastError}}{{end}}</td></tr>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}ok{{else}}bad{{end}}">{{if .MQTTConnected}}conectado{{else}}desconectado{{end}}</td></tr>
<tr><th>Broker</th><td>{{if .Config.Broker}}{{.Config.Broker}}{{else}}-{{end}}</td></tr>
</table>

<h2>Contadores</h2>
<table>
<tr><th>Regas iniciadas</th><td>{{.Counts.Started}}</td></tr>
<tr><th>Regas concluídas</th><td>{{.Counts.Completed}}</td></tr>
<tr><th>Disparos ignorados</th><td>{{.Counts.Suppressed}}</td></tr>
</table>

<h2>Sistema</h2>
<table>
<tr><th>Agora</th><td>{{clock .Now}}</td></tr>
<tr><th>Último ciclo</th><td>{{clock .LastTick}}</td></tr>
<tr><th>Em execução há</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Fuso</th><td>{{.Config.Timezone}}</td></tr>
<tr><th>Agenda</th><td>{{.Config.PollSchedule}}</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}desativado{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.Listen}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> · <a href="/status">status</a> · <a href="/api/horarios">horários</a> · <a href="/api/horarios.ics">calendário</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) {
	// Snapshot has Uptime()/Remaining()/Watering() methods; the template
	// needs plain fields.
	data := struct {
		status.Snapshot
		Uptime    time.Duration
		Remaining time.Duration
		Watering  bool
	}{
		Snapshot:  snap,
		Uptime:    snap.Uptime(),
		Remaining: snap.Remaining(),
		Watering:  snap.Watering(),
	}
	indexTmpl.Execute(w, data)
}

package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/srmq/IIRR/internal/sensor"
	"github.com/srmq/IIRR/internal/status"
)

var pageFuncs = template.FuncMap{
	"moisture": func(v float64) string {
		switch v {
		case sensor.OpenCircuit:
			return "open circuit"
		case sensor.ShortCircuit:
			return "short circuit"
		case sensor.ReadError:
			return "read error"
		}
		return fmt.Sprintf("%.1f%%", v)
	},
	"when": func(t time.Time) string {
		if t.IsZero() {
			return "never"
		}
		return t.UTC().Format(time.RFC3339)
	},
	"secs": func(n int64) string {
		return (time.Duration(n) * time.Second).String()
	},
	"ms": func(n int64) string {
		return (time.Duration(n) * time.Millisecond).String()
	},
	"age": func(d time.Duration) string {
		return d.Truncate(time.Second).String()
	},
}

var indexTmpl = template.Must(template.New("index").Funcs(pageFuncs).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>IIRR Irrigation</title>
<style>
body { font: 14px/1.4 sans-serif; margin: 1.5em; color: #222; }
section { margin-bottom: 1.2em; }
dl { display: grid; grid-template-columns: 12em auto; gap: 2px 1em; margin: 0.4em 0; }
dt { color: #555; }
dd { margin: 0; }
.good { color: #1a7f37; }
.idle { color: #777; }
.bad { color: #c62828; font-weight: bold; }
</style>
</head>
<body>
<h1>IIRR irrigation controller</h1>

<section>
<h3>Soil moisture</h3>
{{if .HaveReading}}<dl>
<dt>Surface</dt><dd>{{moisture .Reading.Surface}}</dd>
<dt>Middle</dt><dd>{{moisture .Reading.Middle}}</dd>
<dt>Deep</dt><dd>{{moisture .Reading.Deep}}</dd>
<dt>Read at</dt><dd>{{when .Reading.Time}}</dd>
</dl>{{else}}<p class="idle">No reading yet.</p>{{end}}
</section>

<section>
<h3>Irrigation</h3>
<dl>
<dt>Pump</dt><dd class="{{if .PumpOn}}good{{else}}idle{{end}}">{{if .PumpOn}}running{{else}}stopped{{end}}</dd>
<dt>Irrigating</dt><dd>{{if .Irrigation.IsIrrigating}}since {{when .Irrigation.IrrigSince}}{{else}}no{{end}}</dd>
<dt>Water supply</dt><dd{{if .EmptyTriggered}} class="bad"{{end}}>{{if .EmptyTriggered}}EMPTY, reset required{{else}}ok{{end}}</dd>
<dt>Last run ended</dt><dd>{{when .Irrigation.LastIrrigEnd}}</dd>
<dt>Irrigated today</dt><dd>{{secs .Irrigation.IrrigTodaySecs}}</dd>
<dt>Budget left</dt><dd>{{secs .RemainingSecs}}</dd>
<dt>Parameters</dt><dd{{if not .ConfValid}} class="bad"{{end}}>{{if .ConfValid}}valid{{else}}missing or invalid{{end}}</dd>
<dt>Flow calibration</dt><dd>{{.Learn}} ({{printf "%.2f" .FlowRate}} pulses/s)</dd>
</dl>
</section>

<section>
<h3>Links</h3>
<dl>
<dt>MQTT</dt><dd class="{{if .MQTTConnected}}good{{else}}bad{{end}}">{{if .MQTTConnected}}up{{else}}down{{end}} {{.Config.Broker}}</dd>
<dt>Cloud</dt><dd{{if .Cloud.LastError}} class="bad"{{end}}>{{if .Cloud.LastError}}{{.Cloud.LastError}}{{else}}ok{{end}}, last cycle {{when .Cloud.LastCycle}}</dd>
{{with .Network}}<dt>Network</dt><dd>{{.Status}} {{.Type}}{{if .SSID}} {{.SSID}}{{end}} {{.IP}}</dd>{{end}}
</dl>
</section>

<section>
<h3>Daemon</h3>
<dl>
<dt>Up for</dt><dd>{{age .Uptime}} (since {{when .StartTime}})</dd>
<dt>Sensor tick</dt><dd>{{ms .Config.TickMs}}</dd>
<dt>Heartbeat</dt><dd>{{if .Config.HeartbeatMs}}{{ms .Config.HeartbeatMs}}{{else}}off{{end}}</dd>
<dt>Timezone</dt><dd>{{.Config.Timezone}}</dd>
<dt>Data</dt><dd>{{.Config.DataDir}}</dd>
</dl>
</section>

<p><a href="/index.json">index.json</a> &middot; <a href="/metrics">metrics</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) error {
	return indexTmpl.Execute(w, &snap)
}

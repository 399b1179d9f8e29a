package webmonitor

const indexHTML = `
<!DOCTYPE html>
<html>
<head>
    <title>Zone Editor</title>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <link rel="stylesheet" href="/assets/editor.css">
    <style>
        body { font-family: sans-serif; background: #1e1e22; color: #eee; margin: 0; }
        .app { display: grid; grid-template-columns: 1fr 360px; gap: 16px; padding: 16px; }
        .header { grid-column: span 2; display: flex; gap: 12px; align-items: center; }
        .banner { background: #b71c1c; padding: 6px 10px; border-radius: 4px; display: none; }
        #canvas { width: 100%; height: auto; cursor: crosshair; background: #000; user-select: none; }
        .toolbar button { margin-right: 6px; }
        .zone-row { border: 1px solid #444; border-radius: 4px; padding: 8px; margin-bottom: 8px; }
        .zone-row.selected { border-color: #ff9800; }
        .chip { display: inline-block; padding: 2px 6px; margin: 2px; border-radius: 10px; background: #333; cursor: pointer; font-size: 11px; }
        .chip.active { background: #00c853; color: #000; }
        .caption { color: #aaa; font-size: 13px; min-height: 18px; }
    </style>
</head>
<body>
    <div class="app">
        <div class="header">
            <strong>Zone Editor</strong>
            <input id="source" placeholder="source id" value="default">
            <button type="button" id="btn-open">Open</button>
            <span id="status">Not connected</span>
            <span class="banner" id="banner"></span>
        </div>
        <div>
            <div class="toolbar">
                <button type="button" data-draw="polygon">Draw polygon</button>
                <button type="button" data-draw="line">Draw line</button>
                <button type="button" data-event="complete">Complete</button>
                <button type="button" data-event="cancel">Cancel</button>
                <button type="button" data-event="undo">Undo</button>
                <button type="button" data-event="redo">Redo</button>
                <button type="button" id="btn-save">Save</button>
                <button type="button" id="btn-discard">Discard</button>
            </div>
            <p class="caption" id="caption"></p>
            <img id="canvas" alt="Zone editor canvas" draggable="false">
        </div>
        <div id="panel"></div>
    </div>
    <script>
    (function () {
        const viewer = "viewer-" + Math.random().toString(36).slice(2, 10);
        const img = document.getElementById("canvas");
        let source = null;
        let events = null;
        let canvasSize = [1280, 720];

        function api(method, path, body) {
            return fetch("/api/sources/" + encodeURIComponent(source) + path, {
                method: method,
                headers: { "Content-Type": "application/json" },
                body: body ? JSON.stringify(body) : undefined,
            }).then(r => r.json().catch(() => ({}))).then(data => {
                const snap = data.snapshot || (data.version !== undefined ? data : null);
                if (snap) render(snap);
                if (data.error) showBanner(data.error);
                return data;
            });
        }

        // Events are posted one at a time so the server sees them in order.
        let pending = Promise.resolve();
        function send(ev) {
            if (!source) return pending;
            pending = pending.then(() => api("POST", "/editor/events", ev)).catch(() => {});
            return pending;
        }

        function toCanvas(e) {
            const rect = img.getBoundingClientRect();
            return {
                x: (e.clientX - rect.left) * canvasSize[0] / rect.width,
                y: (e.clientY - rect.top) * canvasSize[1] / rect.height,
            };
        }

        let moving = false;
        let queued = null;
        function pointer(type, e) {
            const p = toCanvas(e);
            if (type !== "pointermove") {
                if (queued) send(queued);
                queued = null;
                send({ type: type, x: p.x, y: p.y });
                return;
            }
            queued = { type: type, x: p.x, y: p.y };
            if (moving) return;
            moving = true;
            requestAnimationFrame(() => {
                moving = false;
                if (queued) send(queued);
                queued = null;
            });
        }

        img.addEventListener("pointerdown", e => { e.preventDefault(); pointer("pointerdown", e); });
        img.addEventListener("pointermove", e => pointer("pointermove", e));
        img.addEventListener("pointerup", e => pointer("pointerup", e));
        img.addEventListener("pointerleave", () => {
            if (queued) send(queued);
            queued = null;
            send({ type: "pointerleave" });
        });

        document.querySelectorAll("[data-draw]").forEach(b =>
            b.addEventListener("click", () => send({ type: "draw", kind: b.dataset.draw })));
        document.querySelectorAll("[data-event]").forEach(b =>
            b.addEventListener("click", () => send({ type: b.dataset.event })));
        document.getElementById("btn-save").addEventListener("click", () => api("POST", "/save"));
        document.getElementById("btn-discard").addEventListener("click", () => api("POST", "/refresh?discard=true"));
        document.getElementById("btn-open").addEventListener("click", () => open(document.getElementById("source").value));

        function showBanner(msg) {
            const el = document.getElementById("banner");
            el.textContent = msg || "";
            el.style.display = msg ? "inline-block" : "none";
        }

        function render(snap) {
            canvasSize = snap.canvas;
            document.getElementById("status").textContent =
                snap.mode + (snap.unsaved ? " · unsaved" : "") + (snap.background_loaded ? "" : " · no frame");
            document.getElementById("caption").textContent = snap.draft ? snap.draft.caption : "";
            showBanner(snap.banner ? snap.banner.message : "");
            const panel = document.getElementById("panel");
            panel.innerHTML = "";
            snap.panel.forEach(row => panel.appendChild(zoneRow(row)));
        }

        function zoneRow(row) {
            const el = document.createElement("div");
            el.className = "zone-row" + (row.selected ? " selected" : "");
            const title = document.createElement("div");
            title.textContent = row.id + " (" + row.type + ")" + (row.unsaved ? " *" : "");
            title.addEventListener("click", () => send({ type: "select", index: row.index }));
            el.appendChild(title);

            const threshold = document.createElement("input");
            threshold.type = "number";
            threshold.min = "1";
            threshold.value = row.min_crossing_threshold;
            threshold.addEventListener("change", () =>
                api("PATCH", "/zones/" + row.index, { min_crossing_threshold: parseInt(threshold.value, 10) }));
            el.appendChild(threshold);

            const rename = document.createElement("input");
            rename.value = row.id;
            rename.addEventListener("change", () => api("PATCH", "/zones/" + row.index, { id: rename.value }));
            el.appendChild(rename);

            const chips = document.createElement("div");
            row.anchors.forEach(chip => {
                const c = document.createElement("span");
                c.className = "chip" + (chip.active ? " active" : "");
                c.textContent = chip.anchor;
                c.addEventListener("click", () =>
                    api("PATCH", "/zones/" + row.index, { toggle_anchor: [chip.anchor] }));
                chips.appendChild(c);
            });
            el.appendChild(chips);

            const del = document.createElement("button");
            del.textContent = "Delete";
            del.addEventListener("click", () => api("DELETE", "/zones/" + row.index));
            el.appendChild(del);
            return el;
        }

        function open(id) {
            if (events) events.close();
            source = id;
            fetch("/api/sources/" + encodeURIComponent(id) + "/editor?viewer=" + viewer)
                .then(r => r.json())
                .then(snap => {
                    render(snap);
                    img.src = "/api/sources/" + encodeURIComponent(id) + "/canvas/stream";
                    events = new EventSource("/api/sources/" + encodeURIComponent(id) + "/editor/stream");
                    events.onmessage = msg => render(JSON.parse(msg.data));
                });
        }

        window.addEventListener("beforeunload", () => {
            if (events) events.close();
        });
        open(document.getElementById("source").value);
    })();
    </script>
</body>
</html>
`

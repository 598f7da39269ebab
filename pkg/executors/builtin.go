package executors

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"synbridge/pkg/models"
)

// RegisterBuiltins installs the executors the host ships with. Scene
// commands operate on scene.
func RegisterBuiltins(r *Registry, scene *Scene) {
	r.Register(Info{Name: "Ping", Description: "Liveness check"}, pingExecutor)
	r.Register(Info{
		Name:        "Log",
		Description: "Write a message to the host log",
		Parameters:  map[string]string{"message": "text to log", "level": "info, warn or error (default info)"},
	}, r.logExecutor)
	r.Register(Info{Name: "GetCapabilities", Description: "List the command types this host executes"}, r.capabilitiesExecutor)

	r.Register(Info{Name: "GetSceneInfo", Description: "Describe the active scene"}, sceneInfoExecutor(scene))

	find := Info{Description: "Look up an object by name", Parameters: map[string]string{"name": "object name"}}
	find.Name = "FindGameObject"
	r.Register(find, findExecutor(scene))
	find.Name = "FindObject"
	r.Register(find, findExecutor(scene))

	active := Info{Description: "Enable or disable an object", Parameters: map[string]string{"object": "object name", "active": "true or false"}}
	active.Name = "SetActive"
	r.Register(active, setActiveExecutor(scene))
	active.Name = "SetState"
	r.Register(active, setActiveExecutor(scene))

	coords := map[string]string{"object": "object name", "x": "x (optional)", "y": "y (optional)", "z": "z (optional)"}
	r.Register(Info{Name: "SetPosition", Description: "Set an object's position", Parameters: coords}, positionExecutor(scene, false))
	r.Register(Info{Name: "MoveGameObject", Description: "Translate an object by an offset", Parameters: coords}, positionExecutor(scene, true))

	r.Register(Info{
		Name:        "GetComponent",
		Description: "Read a component's fields",
		Parameters:  map[string]string{"object": "object name", "component": "component name"},
	}, getComponentExecutor(scene))
	r.Register(Info{
		Name:        "SetComponentValue",
		Description: "Write one component field",
		Parameters:  map[string]string{"object": "object name", "component": "component name", "field": "field name", "value": "new value"},
	}, setComponentExecutor(scene))
}

func pingExecutor(_ context.Context, cmd models.Command) models.Result {
	return models.Succeeded(cmd.ID, "pong", map[string]any{"time": time.Now().UTC().Format(time.RFC3339Nano)})
}

func (r *Registry) logExecutor(_ context.Context, cmd models.Command) models.Result {
	msg := stringParam(cmd, "message")
	switch stringParam(cmd, "level") {
	case "warn", "warning":
		r.log.Warn(msg, zap.String("source", "companion"))
	case "error":
		r.log.Error(msg, zap.String("source", "companion"))
	default:
		r.log.Info(msg, zap.String("source", "companion"))
	}
	return models.Succeeded(cmd.ID, "Logged", nil)
}

func (r *Registry) capabilitiesExecutor(_ context.Context, cmd models.Command) models.Result {
	infos := r.Infos()
	commands := make([]any, 0, len(infos))
	for _, info := range infos {
		commands = append(commands, map[string]any{"name": info.Name, "description": info.Description})
	}
	return models.Succeeded(cmd.ID, fmt.Sprintf("%d commands available", len(infos)), map[string]any{"commands": commands})
}

func sceneInfoExecutor(scene *Scene) Func {
	return func(_ context.Context, cmd models.Command) models.Result {
		names := scene.Names()
		objects := make([]any, len(names))
		for i, n := range names {
			objects[i] = n
		}
		return models.Succeeded(cmd.ID, "Scene: "+scene.Name, map[string]any{
			"scene":   scene.Name,
			"objects": objects,
			"count":   len(names),
		})
	}
}

func findExecutor(scene *Scene) Func {
	return func(_ context.Context, cmd models.Command) models.Result {
		name := stringParam(cmd, "name")
		o, ok := scene.Find(name)
		if !ok {
			return models.Failed(cmd.ID, "GameObject not found: "+name)
		}
		return models.Succeeded(cmd.ID, "Found "+name, objectData(o))
	}
}

func setActiveExecutor(scene *Scene) Func {
	return func(_ context.Context, cmd models.Command) models.Result {
		name := stringParam(cmd, "object")
		active := boolParam(cmd, "active")
		if !scene.Update(name, func(o *Object) { o.Active = active }) {
			return models.Failed(cmd.ID, "GameObject not found: "+name)
		}
		return models.Succeeded(cmd.ID, fmt.Sprintf("%s active=%t", name, active), map[string]any{"active": active})
	}
}

func positionExecutor(scene *Scene, relative bool) Func {
	return func(_ context.Context, cmd models.Command) models.Result {
		name := stringParam(cmd, "object")
		var pos [3]float64
		ok := scene.Update(name, func(o *Object) {
			for i, axis := range []string{"x", "y", "z"} {
				v, present := floatParam(cmd, axis)
				if !present {
					continue
				}
				if relative {
					o.Position[i] += v
				} else {
					o.Position[i] = v
				}
			}
			pos = o.Position
		})
		if !ok {
			return models.Failed(cmd.ID, "GameObject not found: "+name)
		}
		return models.Succeeded(cmd.ID, fmt.Sprintf("%s at (%g, %g, %g)", name, pos[0], pos[1], pos[2]),
			map[string]any{"position": []any{pos[0], pos[1], pos[2]}})
	}
}

func getComponentExecutor(scene *Scene) Func {
	return func(_ context.Context, cmd models.Command) models.Result {
		name, component := stringParam(cmd, "object"), stringParam(cmd, "component")
		o, ok := scene.Find(name)
		if !ok {
			return models.Failed(cmd.ID, "GameObject not found: "+name)
		}
		fields, ok := o.Components[component]
		if !ok {
			return models.Failed(cmd.ID, fmt.Sprintf("Component %s not found on %s", component, name))
		}
		return models.Succeeded(cmd.ID, component+" on "+name, fields)
	}
}

func setComponentExecutor(scene *Scene) Func {
	return func(_ context.Context, cmd models.Command) models.Result {
		name, component, field := stringParam(cmd, "object"), stringParam(cmd, "component"), stringParam(cmd, "field")
		value, _ := cmd.Param("value")

		var missing bool
		found := scene.Update(name, func(o *Object) {
			fields, ok := o.Components[component]
			if !ok {
				missing = true
				return
			}
			fields[field] = value
		})
		switch {
		case !found:
			return models.Failed(cmd.ID, "GameObject not found: "+name)
		case missing:
			return models.Failed(cmd.ID, fmt.Sprintf("Component %s not found on %s", component, name))
		}
		return models.Succeeded(cmd.ID, fmt.Sprintf("%s.%s.%s updated", name, component, field), nil)
	}
}

func objectData(o Object) map[string]any {
	names := make([]string, 0, len(o.Components))
	for name := range o.Components {
		names = append(names, name)
	}
	sort.Strings(names)
	components := make([]any, len(names))
	for i, n := range names {
		components[i] = n
	}
	return map[string]any{
		"name":       o.Name,
		"active":     o.Active,
		"position":   []any{o.Position[0], o.Position[1], o.Position[2]},
		"components": components,
	}
}

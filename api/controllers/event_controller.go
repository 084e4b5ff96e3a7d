/*
 * @module api/controllers/event_controller
 * @description 事件管理控制器，提供注册表变更事件的SSE订阅接口
 * @architecture RESTful API架构 - 控制器层
 * @stateFlow 建立SSE连接 -> 事件推送 -> 连接断开清理
 * @rules 每个连接独立的事件缓冲，客户端断开后立即清理
 * @dependencies service/event
 * @refs service/event/event_service.go
 */

package controllers

import (
	"fmt"
	"net/http"
	"time"

	"bireport-service/service"
	"bireport-service/service/event"
)

// EventController 事件管理控制器
type EventController struct {
	eventService *event.EventService
}

// NewEventController 创建事件管理控制器实例
func NewEventController() *EventController {
	return &EventController{
		eventService: service.GlobalEventService,
	}
}

// HandleSSE 处理SSE连接
// @Summary 建立SSE连接
// @Description 前端页面通过此接口建立SSE连接，接收注册表变更事件推送
// @Tags 事件管理
// @Success 200 {string} string "SSE事件流"
// @Router /sse [get]
func (c *EventController) HandleSSE(w http.ResponseWriter, r *http.Request) {
	// 设置SSE响应头
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Cache-Control")

	client := c.eventService.AddConnection()
	defer c.eventService.RemoveConnection(client.ID)

	// 发送连接成功事件
	fmt.Fprintf(w, "data: {\"type\":\"connected\",\"connection_id\":\"%s\",\"timestamp\":\"%s\"}\n\n",
		client.ID, time.Now().Format(time.RFC3339))

	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}

	for {
		select {
		case registryEvent := <-client.Channel:
			fmt.Fprintf(w, "data: %s\n\n", event.MarshalEvent(registryEvent))

			if flusher, ok := w.(http.Flusher); ok {
				flusher.Flush()
			}

		case <-client.Done:
			return

		case <-r.Context().Done():
			return
		}
	}
}

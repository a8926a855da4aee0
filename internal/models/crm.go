package models

import "time"

// Customer is a CRM contact record.
type Customer struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Email       string    `json:"email"`
	Phone       string    `json:"phone"`
	Company     string    `json:"company"`
	Status      string    `json:"status"`
	LastContact time.Time `json:"lastContact"`
	TotalSpent  float64   `json:"totalSpent"`
	AvatarRef   string    `json:"avatarRef,omitempty"`
}

// Document is an uploaded file attached to a customer.
type Document struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Type         string    `json:"type"`
	Size         int64     `json:"size"`
	UploadedAt   time.Time `json:"uploadedAt"`
	CustomerID   string    `json:"customerId"`
	CustomerName string    `json:"customerName"`
}

// CallHistoryItem is a past call shown on the calls page.
type CallHistoryItem struct {
	ID           string    `json:"id"`
	CustomerID   string    `json:"customerId"`
	CustomerName string    `json:"customerName"`
	Date         time.Time `json:"date"`
	Duration     int       `json:"duration"`
	Status       string    `json:"status"`
	Type         string    `json:"type"`
	AIAssisted   bool      `json:"aiAssisted"`
}

// CloneAck acknowledges a voice or video clone sample.
type CloneAck struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	Bytes      int64     `json:"bytes"`
	ReceivedAt time.Time `json:"receivedAt"`
}
